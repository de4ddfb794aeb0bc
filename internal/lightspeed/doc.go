// Package lightspeed is an OAuth2 client for the Lightspeed Retail (X-Series) API.
//
// Every store lives on its own subdomain, so token and API endpoints are
// derived from the store's domain prefix:
//
//	https://{domain}.retail.lightspeed.app/api/1.0/token
//	https://{domain}.retail.lightspeed.app/api/2.0/...
//
// # Connecting
//
// BeginAuthorization records a pending handshake with a random state token
// and returns the URL to send the user to. The redirect back is completed with
// ExchangeCode (or CompleteAuthorization for raw callback parameters), which
// rejects any state it did not issue before touching the network.
//
//	url, err := client.BeginAuthorization(ctx, "mystore")
//	// ... user approves, platform redirects to the callback ...
//	tok, err := client.CompleteAuthorization(ctx, callbackQuery)
//
// # Requests
//
// Request attaches a bearer token, refreshing it when it is within five
// minutes of expiry, and retries exactly once after a 401:
//
//	raw, err := client.Request(ctx, "/customers", lightspeed.WithQuery(url.Values{"search": {"jane"}}))
//	if errors.Is(err, lightspeed.ErrAuthenticationExpired) {
//		// credentials were cleared, start a new handshake
//	}
//
// Concurrent refreshes are collapsed into one call to the token endpoint, so
// a rotating refresh token is never spent twice.
package lightspeed

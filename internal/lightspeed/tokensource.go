package lightspeed

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource exposes the client's stored credential as an oauth2.TokenSource,
// for collaborators that prefer oauth2.Transport over Request.
// Tokens near expiry are refreshed with the same single-flight refresh as Request.
//
// oauth2.TokenSource.Token() has no context parameter, so ctx is captured here
// and used for every call.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &clientTokenSource{ctx: ctx, client: c}
}

type clientTokenSource struct {
	ctx    context.Context
	client *Client
}

// Compile-time check to ensure clientTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*clientTokenSource)(nil)

// Token returns the stored access token, refreshing it first if it is close to expiry.
func (s *clientTokenSource) Token() (*oauth2.Token, error) {
	r, err := s.client.validRecord(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: r.AccessToken,
		TokenType:   "Bearer",
		Expiry:      r.ExpiresAt,
	}, nil
}

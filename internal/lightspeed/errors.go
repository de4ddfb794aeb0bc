package lightspeed

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrCsrfMismatch means the callback state does not belong to a handshake started by this client.
	ErrCsrfMismatch = errors.New("authorization state mismatch")

	// ErrInvalidDomain means the domain prefix is not a valid store subdomain.
	ErrInvalidDomain = errors.New("invalid domain prefix")

	// ErrAuthorizationDenied means the platform redirected back with an error instead of a code.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrNotAuthenticated means no usable credential is stored.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrTokenExchangeFailed means the authorization code could not be traded for tokens.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrRefreshFailed means the refresh token was rejected. Stored credentials have been cleared.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrAuthenticationExpired means the platform kept rejecting the credential after a refresh.
	// Stored credentials have been cleared.
	ErrAuthenticationExpired = errors.New("authentication expired")

	// ErrRequestFailed means an API call failed for a reason unrelated to authentication.
	ErrRequestFailed = errors.New("request failed")
)

// StatusError describes a failed HTTP exchange with the platform.
// errors.Is matches Kind, so callers can test against the sentinels above.
type StatusError struct {
	// Kind is ErrTokenExchangeFailed, ErrRefreshFailed or ErrRequestFailed.
	Kind error
	// StatusCode is 0 when no response was received.
	StatusCode int
	// Body is the raw response body, or a description of a decoding failure.
	Body string
	// Err is the transport or decoding error, if any.
	Err error
}

func (e *StatusError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%v: %d %s: %s", e.Kind, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%v: %d %s", e.Kind, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *StatusError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

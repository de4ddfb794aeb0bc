package lightspeed

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/retailctl/internal/credentials"
)

// stateBytes is the entropy of a handshake state token (256 bits).
const stateBytes = 32

// BeginAuthorization starts a handshake with the store at domain and returns
// the URL the user must visit. Any earlier unfinished handshake is discarded.
func (c *Client) BeginAuthorization(ctx context.Context, domain string) (string, error) {
	if err := c.validateDomain(domain); err != nil {
		return "", err
	}

	state, err := newState()
	if err != nil {
		return "", err
	}

	pending := credentials.Pending{
		State:     state,
		Domain:    domain,
		CreatedAt: c.now(),
	}
	if err := c.creds.SavePending(ctx, pending); err != nil {
		return "", err
	}

	c.logger.InfoContext(ctx, "authorization started", "domain", domain)
	return c.oauthConfig(domain).AuthCodeURL(state), nil
}

// ExchangeCode completes the handshake by trading code for a token pair.
// state must match the pending handshake; the check happens before any network call.
// An empty domain means the domain the handshake was started with.
func (c *Client) ExchangeCode(ctx context.Context, code, state, domain string) (*oauth2.Token, error) {
	pending, err := c.checkState(ctx, state, domain)
	if err != nil {
		return nil, err
	}
	domain = pending.Domain

	epoch := c.currentEpoch()

	exchangeCtx, cancel := context.WithTimeout(c.oauthContext(ctx), c.timeout)
	defer cancel()

	tok, err := c.oauthConfig(domain).Exchange(exchangeCtx, code)
	if err != nil {
		// Authorization codes are single-use, so a failed exchange ends the handshake.
		if clearErr := c.creds.ClearPending(ctx); clearErr != nil {
			c.logger.WarnContext(ctx, "failed to clear pending authorization", "error", clearErr)
		}
		return nil, newStatusError(ErrTokenExchangeFailed, err)
	}

	record := credentials.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Domain:       domain,
		ExpiresAt:    expiryOf(tok, c.now()),
	}
	saved, err := c.saveIfCurrent(ctx, epoch, record, true)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, fmt.Errorf("%w: disconnected during authorization", ErrNotAuthenticated)
	}
	if err := c.creds.ClearPending(ctx); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "connected to store", "domain", domain, "expires_at", record.ExpiresAt)
	return tok, nil
}

// CompleteAuthorization handles the query parameters of the redirect back from the
// platform: it surfaces a provider error, checks that code and state are present,
// and exchanges the code for the pending handshake's domain.
func (c *Client) CompleteAuthorization(ctx context.Context, callback url.Values) (*oauth2.Token, error) {
	if e := callback.Get("error"); e != "" {
		if desc := callback.Get("error_description"); desc != "" {
			e += ": " + desc
		}
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, e)
	}

	code, state := callback.Get("code"), callback.Get("state")
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: missing authorization code or state parameter", ErrAuthorizationDenied)
	}

	return c.ExchangeCode(ctx, code, state, "")
}

// CancelAuthorization abandons the pending handshake, if any.
func (c *Client) CancelAuthorization(ctx context.Context) error {
	return c.creds.ClearPending(ctx)
}

// checkState validates state and domain against the pending handshake.
func (c *Client) checkState(ctx context.Context, state, domain string) (credentials.Pending, error) {
	pending, ok, err := c.creds.LoadPending(ctx)
	if err != nil {
		return credentials.Pending{}, err
	}
	if !ok {
		return credentials.Pending{}, fmt.Errorf("%w: no authorization in progress", ErrCsrfMismatch)
	}

	if c.pendingTTL > 0 && c.now().Sub(pending.CreatedAt) > c.pendingTTL {
		if err := c.creds.ClearPending(ctx); err != nil {
			c.logger.WarnContext(ctx, "failed to clear expired authorization", "error", err)
		}
		return credentials.Pending{}, fmt.Errorf("%w: authorization started more than %s ago", ErrCsrfMismatch, c.pendingTTL)
	}

	if subtle.ConstantTimeCompare([]byte(state), []byte(pending.State)) != 1 {
		c.logger.WarnContext(ctx, "rejected authorization callback with unknown state", "domain", pending.Domain)
		return credentials.Pending{}, ErrCsrfMismatch
	}

	if domain != "" && domain != pending.Domain {
		return credentials.Pending{}, fmt.Errorf("%w: authorization was started for a different store", ErrCsrfMismatch)
	}

	return pending, nil
}

// newState returns a URL-safe random token for the OAuth state parameter.
func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// expiryOf computes when tok expires, counting expires_in from receivedAt.
func expiryOf(tok *oauth2.Token, receivedAt time.Time) time.Time {
	if tok.ExpiresIn > 0 {
		return receivedAt.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok.Expiry
}

// newStatusError converts an oauth2 token endpoint error into a StatusError of the given kind.
func newStatusError(kind, err error) *StatusError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		se := &StatusError{Kind: kind, Body: string(re.Body)}
		if re.Response != nil {
			se.StatusCode = re.Response.StatusCode
		}
		return se
	}
	return &StatusError{Kind: kind, Err: err}
}

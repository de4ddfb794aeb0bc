package lightspeed

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/florianilch/retailctl/internal/credentials"
)

// refreshKey is the single-flight key; there is one credential record per client.
const refreshKey = "refresh"

// Refresh trades the stored refresh token for a new access token.
//
// Concurrent callers share one network refresh and all receive its outcome.
// The shared refresh is not cancelled when one caller's ctx ends; that caller
// simply stops waiting. On failure the stored record is cleared unless a newer
// session replaced it; a pending authorization survives.
func (c *Client) Refresh(ctx context.Context) (*oauth2.Token, error) {
	return c.sharedRefresh(ctx, "")
}

// sharedRefresh joins or starts the single refresh flight. A non-empty stale
// token lets the flight skip the grant when the stored token already replaced it.
func (c *Client) sharedRefresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(refreshCtx, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	}
}

// refresh performs one refresh_token grant and persists the result.
// When stale is set and the stored access token differs from it, another
// refresh already ran and the stored token is returned without a grant.
func (c *Client) refresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	current, err := c.creds.Load(ctx)
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" || current.Domain == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrNotAuthenticated)
	}
	if stale != "" && current.AccessToken != "" && current.AccessToken != stale {
		c.logger.DebugContext(ctx, "access token already refreshed", "domain", current.Domain)
		return storedToken(current), nil
	}

	epoch := c.currentEpoch()

	// The access token is deliberately left empty so the source always hits the token endpoint.
	ts := c.oauthConfig(current.Domain).TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: current.RefreshToken,
	})
	tok, err := ts.Token()
	if err != nil {
		refreshErr := newStatusError(ErrRefreshFailed, err)
		// ctx may already be past its deadline; the clear must still happen.
		cleared, clearErr := c.clearIfCurrent(context.WithoutCancel(ctx), epoch)
		if clearErr != nil {
			return nil, errors.Join(refreshErr, clearErr)
		}
		if cleared {
			c.logger.WarnContext(ctx, "token refresh rejected, clearing credentials", "domain", current.Domain)
		}
		return nil, refreshErr
	}

	next := credentials.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: current.RefreshToken,
		Domain:       current.Domain,
		ExpiresAt:    expiryOf(tok, c.now()),
	}
	// Providers that rotate refresh tokens send a new one; others omit it.
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}

	saved, err := c.saveIfCurrent(ctx, epoch, next, false)
	if err != nil {
		return nil, err
	}
	if !saved {
		// A disconnect or a new authorization happened meanwhile; whatever it stored wins.
		if r, err := c.loadAuthenticated(ctx); err == nil {
			return storedToken(r), nil
		}
		return nil, fmt.Errorf("%w: disconnected during refresh", ErrNotAuthenticated)
	}

	c.logger.InfoContext(ctx, "refreshed access token", "domain", next.Domain, "expires_at", next.ExpiresAt)
	return tok, nil
}

// storedToken describes a stored record as an oauth2 token.
func storedToken(r credentials.Record) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: r.RefreshToken,
		Expiry:       r.ExpiresAt,
	}
}

// AccessToken returns a usable access token, refreshing first if it expires within the refresh buffer.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	r, err := c.validRecord(ctx)
	if err != nil {
		return "", err
	}
	return r.AccessToken, nil
}

// validRecord loads the record and refreshes it when it is close to expiry.
func (c *Client) validRecord(ctx context.Context) (credentials.Record, error) {
	r, err := c.creds.Load(ctx)
	if err != nil {
		return credentials.Record{}, err
	}
	if !r.Authenticated() {
		return credentials.Record{}, ErrNotAuthenticated
	}

	if !r.ExpiresWithin(c.now(), c.refreshBuffer) {
		return r, nil
	}

	c.logger.DebugContext(ctx, "access token near expiry, refreshing", "domain", r.Domain, "expires_at", r.ExpiresAt)
	return c.replaceToken(ctx, r.AccessToken)
}

// refreshAfterUnauthorized returns a replacement for rejected. If another caller
// already replaced it, the stored token is used without a second refresh.
func (c *Client) refreshAfterUnauthorized(ctx context.Context, rejected string) (credentials.Record, error) {
	r, err := c.creds.Load(ctx)
	if err != nil {
		return credentials.Record{}, err
	}
	if r.Authenticated() && r.AccessToken != rejected {
		return r, nil
	}
	return c.replaceToken(ctx, rejected)
}

// replaceToken refreshes until the stored access token is no longer stale.
// A flight started by another caller for an older token skips its grant, so
// one more flight may be needed for this caller's token.
func (c *Client) replaceToken(ctx context.Context, stale string) (credentials.Record, error) {
	var r credentials.Record
	for range 2 {
		if _, err := c.sharedRefresh(ctx, stale); err != nil {
			return credentials.Record{}, err
		}
		var err error
		if r, err = c.loadAuthenticated(ctx); err != nil {
			return credentials.Record{}, err
		}
		if r.AccessToken != stale {
			break
		}
	}
	return r, nil
}

// loadAuthenticated re-reads the record after a refresh; a concurrent Disconnect may have emptied it.
func (c *Client) loadAuthenticated(ctx context.Context) (credentials.Record, error) {
	r, err := c.creds.Load(ctx)
	if err != nil {
		return credentials.Record{}, err
	}
	if !r.Authenticated() {
		return credentials.Record{}, ErrNotAuthenticated
	}
	return r, nil
}

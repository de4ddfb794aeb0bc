package lightspeed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeginAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	authURL, err := env.client.BeginAuthorization(ctx, "shop1")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "secure.retail.lightspeed.app", u.Host)
	require.Equal(t, "/connect", u.Path)

	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, testRedirectURL, q.Get("redirect_uri"))
	require.GreaterOrEqual(t, len(q.Get("state")), 32)
	require.Regexp(t, `^[A-Za-z0-9_-]+$`, q.Get("state"))

	pending, ok, err := env.creds.LoadPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, q.Get("state"), pending.State)
	require.Equal(t, "shop1", pending.Domain)

	require.Empty(t, env.platform.tokenRequests(), "starting a handshake performs no network calls")
}

func TestBeginAuthorizationStatesAreUnique(t *testing.T) {
	env := newTestEnv(t)
	seen := make(map[string]bool)
	for range 20 {
		authURL, err := env.client.BeginAuthorization(context.Background(), "shop1")
		require.NoError(t, err)
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		state := u.Query().Get("state")
		require.False(t, seen[state])
		seen[state] = true
	}
}

func TestBeginAuthorizationRejectsInvalidDomain(t *testing.T) {
	for _, domain := range []string{"", "Shop1", "shop_1", "shop.evil.com", "shop1/..", "a b"} {
		t.Run(domain, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.client.BeginAuthorization(context.Background(), domain)
			require.ErrorIs(t, err, ErrInvalidDomain)

			_, ok, err := env.creds.LoadPending(context.Background())
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

// beginState starts a handshake and returns its state token.
func beginState(t *testing.T, env *testEnv, domain string) string {
	t.Helper()
	authURL, err := env.client.BeginAuthorization(context.Background(), domain)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestExchangeCode(t *testing.T) {
	env := newTestEnv(t)
	env.platform.tokenHandler = func(w http.ResponseWriter, _ url.Values) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"access_token":  "A",
			"refresh_token": "R",
			"expires_in":    3600,
		})
	}
	ctx := context.Background()

	state := beginState(t, env, "shop1")
	tok, err := env.client.ExchangeCode(ctx, "abc", state, "shop1")
	require.NoError(t, err)
	require.Equal(t, "A", tok.AccessToken)
	require.Equal(t, "R", tok.RefreshToken)

	reqs := env.platform.tokenRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.Equal(t, "shop1.retail.lightspeed.app", reqs[0].Host)
	require.Equal(t, "/api/1.0/token", reqs[0].Path)
	require.Equal(t, "application/x-www-form-urlencoded", reqs[0].Header.Get("Content-Type"))
	require.Equal(t, "authorization_code", reqs[0].Form.Get("grant_type"))
	require.Equal(t, "abc", reqs[0].Form.Get("code"))
	require.Equal(t, testClientID, reqs[0].Form.Get("client_id"))
	require.Equal(t, testClientSecret, reqs[0].Form.Get("client_secret"))
	require.Equal(t, testRedirectURL, reqs[0].Form.Get("redirect_uri"))

	r := env.record(t)
	require.Equal(t, "A", r.AccessToken)
	require.Equal(t, "R", r.RefreshToken)
	require.Equal(t, "shop1", r.Domain)
	require.WithinDuration(t, env.clock.Now().Add(time.Hour), r.ExpiresAt, 2*time.Second)
	require.True(t, env.client.IsAuthenticated(ctx))

	_, ok, err := env.creds.LoadPending(ctx)
	require.NoError(t, err)
	require.False(t, ok, "pending state is single-use")

	_, err = env.client.ExchangeCode(ctx, "abc", state, "shop1")
	require.ErrorIs(t, err, ErrCsrfMismatch, "a consumed state cannot be replayed")
}

func TestExchangeCodeCsrfMismatch(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, env *testEnv) (state, domain string)
	}{
		{
			name: "no handshake pending",
			setup: func(t *testing.T, env *testEnv) (string, string) {
				return "anything", "shop1"
			},
		},
		{
			name: "state does not match",
			setup: func(t *testing.T, env *testEnv) (string, string) {
				beginState(t, env, "shop1")
				return "forged-state", "shop1"
			},
		},
		{
			name: "empty state",
			setup: func(t *testing.T, env *testEnv) (string, string) {
				beginState(t, env, "shop1")
				return "", "shop1"
			},
		},
		{
			name: "state from an overwritten handshake",
			setup: func(t *testing.T, env *testEnv) (string, string) {
				first := beginState(t, env, "shop1")
				beginState(t, env, "shop1")
				return first, "shop1"
			},
		},
		{
			name: "different store",
			setup: func(t *testing.T, env *testEnv) (string, string) {
				return beginState(t, env, "shop1"), "shop2"
			},
		},
		{
			name: "handshake expired",
			setup: func(t *testing.T, env *testEnv) (string, string) {
				state := beginState(t, env, "shop1")
				env.clock.Advance(DefaultPendingTTL + time.Second)
				return state, "shop1"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			state, domain := tt.setup(t, env)

			_, err := env.client.ExchangeCode(context.Background(), "abc", state, domain)
			require.ErrorIs(t, err, ErrCsrfMismatch)
			require.Empty(t, env.platform.tokenRequests(), "no network call on state mismatch")
			require.False(t, env.client.IsAuthenticated(context.Background()))
		})
	}
}

func TestExchangeCodeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.platform.tokenHandler = func(w http.ResponseWriter, _ url.Values) {
		writeTestJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	}
	ctx := context.Background()

	state := beginState(t, env, "shop1")
	_, err := env.client.ExchangeCode(ctx, "bad-code", state, "shop1")
	require.ErrorIs(t, err, ErrTokenExchangeFailed)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusBadRequest, se.StatusCode)
	require.Contains(t, se.Body, "invalid_grant")

	require.False(t, env.client.IsAuthenticated(ctx))
	_, ok, err := env.creds.LoadPending(ctx)
	require.NoError(t, err)
	require.False(t, ok, "a failed exchange ends the handshake")
}

func TestCompleteAuthorization(t *testing.T) {
	t.Run("exchanges code for the pending store", func(t *testing.T) {
		env := newTestEnv(t)
		state := beginState(t, env, "shop9")

		tok, err := env.client.CompleteAuthorization(context.Background(), url.Values{
			"code":  {"abc"},
			"state": {state},
		})
		require.NoError(t, err)
		require.Equal(t, "A2", tok.AccessToken)
		require.Equal(t, "shop9", env.record(t).Domain)
		require.Equal(t, "shop9.retail.lightspeed.app", env.platform.tokenRequests()[0].Host)
	})

	t.Run("provider error", func(t *testing.T) {
		env := newTestEnv(t)
		beginState(t, env, "shop1")

		_, err := env.client.CompleteAuthorization(context.Background(), url.Values{
			"error":             {"access_denied"},
			"error_description": {"user declined"},
		})
		require.ErrorIs(t, err, ErrAuthorizationDenied)
		require.ErrorContains(t, err, "access_denied: user declined")
		require.Empty(t, env.platform.tokenRequests())
	})

	t.Run("missing code", func(t *testing.T) {
		env := newTestEnv(t)
		state := beginState(t, env, "shop1")

		_, err := env.client.CompleteAuthorization(context.Background(), url.Values{"state": {state}})
		require.ErrorIs(t, err, ErrAuthorizationDenied)
		require.Empty(t, env.platform.tokenRequests())
	})
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.connect(t, time.Hour)
	beginState(t, env, "shop1")
	require.True(t, env.client.IsAuthenticated(ctx))

	require.NoError(t, env.client.Disconnect(ctx))
	require.False(t, env.client.IsAuthenticated(ctx))

	require.NoError(t, env.client.Disconnect(ctx))
	require.False(t, env.client.IsAuthenticated(ctx))

	_, ok, err := env.creds.LoadPending(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = env.client.Domain(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestNewValidatesConfig(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(env.creds, Config{ClientID: testClientID, RedirectURL: testRedirectURL})
	require.Error(t, err, "client secret is required")

	_, err = New(env.creds, Config{ClientID: testClientID, ClientSecret: testClientSecret, RedirectURL: "not a url"})
	require.Error(t, err)

	_, err = New(nil, Config{ClientID: testClientID, ClientSecret: testClientSecret, RedirectURL: testRedirectURL})
	require.Error(t, err)
}

func TestCancelAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := beginState(t, env, "shop1")

	require.NoError(t, env.client.CancelAuthorization(ctx))
	require.NoError(t, env.client.CancelAuthorization(ctx))

	_, err := env.client.ExchangeCode(ctx, "abc", state, "shop1")
	require.ErrorIs(t, err, ErrCsrfMismatch)
}

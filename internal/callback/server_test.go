package callback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackCompletes(t *testing.T) {
	var got url.Values
	s, err := New("http://127.0.0.1:5173/lightspeed/callback", func(_ context.Context, q url.Values) error {
		got = q
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:5173", s.Addr())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lightspeed/callback?code=abc&state=xyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"status":"connected","message":"You can close this window."}`, rec.Body.String())
	require.Equal(t, "abc", got.Get("code"))
	require.Equal(t, "xyz", got.Get("state"))

	select {
	case err := <-s.Done():
		require.NoError(t, err)
	default:
		t.Fatal("expected a result on Done")
	}
}

func TestCallbackReportsFailure(t *testing.T) {
	failure := errors.New("authorization state mismatch")
	s, err := New("http://127.0.0.1:5173/cb", func(context.Context, url.Values) error {
		return failure
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb?code=abc&state=forged", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"authorization state mismatch"}`, rec.Body.String())
	require.ErrorIs(t, <-s.Done(), failure)

	// Later callbacks are answered but do not replace the first outcome.
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb?code=abc&state=again", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	select {
	case <-s.Done():
		t.Fatal("only the first outcome is delivered")
	default:
	}
}

func TestCallbackIgnoresStrayRequests(t *testing.T) {
	called := false
	s, err := New("http://127.0.0.1:5173/cb", func(context.Context, url.Values) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	for _, target := range []string{"/cb", "/cb?code=abc", "/cb?state=xyz"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.False(t, called)
	require.Empty(t, s.Done())
}

func TestCallbackProviderErrorIsDelivered(t *testing.T) {
	s, err := New("http://127.0.0.1:5173/cb", func(_ context.Context, q url.Values) error {
		return errors.New("authorization denied: " + q.Get("error"))
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb?error=access_denied", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.ErrorContains(t, <-s.Done(), "access_denied")
}

func TestNewValidatesRedirectURL(t *testing.T) {
	noop := func(context.Context, url.Values) error { return nil }

	tests := []struct {
		name string
		url  string
	}{
		{"https scheme", "https://127.0.0.1:5173/cb"},
		{"missing port", "http://localhost/cb"},
		{"unparseable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.url, noop)
			require.Error(t, err)
		})
	}

	_, err := New("http://127.0.0.1:5173/cb", nil)
	require.Error(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	s, err := New("http://127.0.0.1:0/cb", func(context.Context, url.Values) error { return nil })
	require.NoError(t, err)

	errCh, err := s.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))
	_, open := <-errCh
	require.False(t, open, "error channel closes after graceful shutdown")
}

func TestShutdownWithoutStart(t *testing.T) {
	s, err := New("http://127.0.0.1:5173/cb", func(context.Context, url.Values) error { return nil })
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))
}

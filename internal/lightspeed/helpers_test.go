package lightspeed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/florianilch/retailctl/internal/credentials"
	"github.com/florianilch/retailctl/internal/tokenstore"
)

const (
	testClientID     = "client-123"
	testClientSecret = "secret-456"
	testRedirectURL  = "http://127.0.0.1:5173/lightspeed/callback"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordedRequest is one request seen by the fake platform.
type recordedRequest struct {
	Method string
	Host   string
	Path   string
	Query  url.Values
	Header http.Header
	Form   url.Values
	Body   string
}

// fakePlatform serves both the token endpoint and the API of every store.
type fakePlatform struct {
	server *httptest.Server

	mu     sync.Mutex
	tokens []recordedRequest
	api    []recordedRequest
	events []string

	// tokenHandler answers token requests. Defaults to issuing A2/R2.
	tokenHandler func(w http.ResponseWriter, form url.Values)
	// apiHandler answers API requests; n counts API calls starting at 1.
	apiHandler func(w http.ResponseWriter, r *http.Request, n int)
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		tokenHandler: func(w http.ResponseWriter, _ url.Values) {
			writeTestJSON(w, http.StatusOK, map[string]any{
				"access_token":  "A2",
				"refresh_token": "R2",
				"token_type":    "bearer",
				"expires_in":    3600,
			})
		},
		apiHandler: func(w http.ResponseWriter, _ *http.Request, _ int) {
			writeTestJSON(w, http.StatusOK, map[string]any{"data": []any{}})
		},
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.serveHTTP))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePlatform) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method: r.Method,
		Host:   r.Header.Get("X-Original-Host"),
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   string(body),
	}

	if r.URL.Path == tokenPath {
		rec.Form, _ = url.ParseQuery(string(body))
		p.mu.Lock()
		p.tokens = append(p.tokens, rec)
		p.events = append(p.events, "token:"+rec.Form.Get("grant_type"))
		handler := p.tokenHandler
		p.mu.Unlock()
		handler(w, rec.Form)
		return
	}

	p.mu.Lock()
	p.api = append(p.api, rec)
	p.events = append(p.events, "api:"+r.Method+" "+r.URL.Path)
	n := len(p.api)
	handler := p.apiHandler
	p.mu.Unlock()
	handler(w, r, n)
}

func (p *fakePlatform) tokenRequests() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedRequest(nil), p.tokens...)
}

func (p *fakePlatform) apiRequests() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedRequest(nil), p.api...)
}

func (p *fakePlatform) eventLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// transport sends every request to the fake platform, keeping the original host in a header.
func (p *fakePlatform) transport() http.RoundTripper {
	target, _ := url.Parse(p.server.URL)
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		out := req.Clone(req.Context())
		out.Header.Set("X-Original-Host", req.URL.Host)
		out.URL.Scheme = target.Scheme
		out.URL.Host = target.Host
		out.Host = target.Host
		return http.DefaultTransport.RoundTrip(out)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testEnv bundles a client with its collaborators.
type testEnv struct {
	client   *Client
	creds    *credentials.Credentials
	clock    *fakeClock
	platform *fakePlatform
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	creds, err := credentials.New(tokenstore.NewMemoryStore())
	require.NoError(t, err)

	platform := newFakePlatform(t)
	clock := newFakeClock()

	base := []Option{
		WithTransport(platform.transport()),
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	client, err := New(creds, Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testRedirectURL,
	}, append(base, opts...)...)
	require.NoError(t, err)

	return &testEnv{client: client, creds: creds, clock: clock, platform: platform}
}

// connect stores a record that expires after ttl.
func (e *testEnv) connect(t *testing.T, ttl time.Duration) {
	t.Helper()
	require.NoError(t, e.creds.Save(context.Background(), credentials.Record{
		AccessToken:  "A1",
		RefreshToken: "R1",
		Domain:       "shop1",
		ExpiresAt:    e.clock.Now().Add(ttl),
	}))
}

func (e *testEnv) record(t *testing.T) credentials.Record {
	t.Helper()
	r, err := e.creds.Load(context.Background())
	require.NoError(t, err)
	return r
}

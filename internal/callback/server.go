package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// CompleteFunc finishes the authorization with the redirect's query parameters.
type CompleteFunc func(ctx context.Context, query url.Values) error

// Server receives the OAuth redirect on the loopback interface.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	addr     string
	complete CompleteFunc

	done     chan error
	doneOnce sync.Once
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a Server answering on the host, port and path of redirectURL.
func New(redirectURL string, complete CompleteFunc) (*Server, error) {
	if complete == nil {
		return nil, fmt.Errorf("missing completion handler")
	}

	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect URL must use http for a local callback, got %q", u.Scheme)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("redirect URL must include a port")
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	s := &Server{
		addr:     u.Host,
		complete: complete,
		done:     make(chan error, 1),
	}

	logger := slog.Default()

	mux := http.NewServeMux()
	mux.Handle("GET "+path, applyMiddlewares(http.HandlerFunc(s.handleCallback),
		Logging(logger),
		Recovery,
	))
	s.mux = mux

	return s, nil
}

// Addr returns the listen address taken from the redirect URL.
func (s *Server) Addr() string {
	return s.addr
}

// Done delivers the outcome of the first completed callback.
func (s *Server) Done() <-chan error {
	return s.done
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	// Stray requests (favicon probes, reloads without parameters) must not end the flow.
	if q.Get("error") == "" && (q.Get("code") == "" || q.Get("state") == "") {
		writeJSONError(ctx, w, "missing authorization code or state parameter", http.StatusBadRequest)
		return
	}

	err := s.complete(ctx, q)
	s.doneOnce.Do(func() { s.done <- err })

	if err != nil {
		slog.ErrorContext(ctx, "authorization callback failed", "error", err)
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(ctx, w, StatusResponse{Status: "connected", Message: "You can close this window."}, http.StatusOK)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Minute, // covers the token exchange performed inside the handler
		IdleTimeout:  30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

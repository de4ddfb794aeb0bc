package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/retailctl/internal/callback"
	"github.com/florianilch/retailctl/internal/credentials"
	"github.com/florianilch/retailctl/internal/lightspeed"
	"github.com/florianilch/retailctl/internal/tokenstore"
)

// ErrConnectTimeout is returned when the browser never returns to the callback.
var ErrConnectTimeout = errors.New("timed out waiting for authorization callback")

// Status describes the stored connection.
type Status struct {
	Connected bool      `json:"connected"`
	Domain    string    `json:"domain,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Option configures an App.
type Option func(*options)

type options struct {
	store     tokenstore.Store
	transport http.RoundTripper
	now       func() time.Time
	shutdown  []func(context.Context) error
}

// WithTokenStore overrides the store built from the storage configuration.
func WithTokenStore(store tokenstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithTransport sets the transport used for all platform traffic.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// WithClock replaces the clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithShutdownFunc registers fn to run when the App is closed.
func WithShutdownFunc(fn func(context.Context) error) Option {
	return func(o *options) {
		o.shutdown = append(o.shutdown, fn)
	}
}

// App wires configuration, credential storage and the platform client together.
type App struct {
	cfg    *Config
	creds  *credentials.Credentials
	client *lightspeed.Client

	shutdownFuncs []func(context.Context) error
}

// New creates a new App instance.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		// I/O deferred to first Get/Set call
		store, err = cfg.Storage.NewTokenStore()
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
	}

	creds, err := credentials.New(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	clientOpts := []lightspeed.Option{
		lightspeed.WithTimeout(cfg.Platform.Timeout),
		lightspeed.WithLogger(slog.Default()),
	}
	if o.transport != nil {
		clientOpts = append(clientOpts, lightspeed.WithTransport(o.transport))
	}
	if o.now != nil {
		clientOpts = append(clientOpts, lightspeed.WithClock(o.now))
	}

	client, err := lightspeed.New(creds, cfg.Platform.clientConfig(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform client: %w", err)
	}

	return &App{
		cfg:           cfg,
		creds:         creds,
		client:        client,
		shutdownFuncs: o.shutdown,
	}, nil
}

// Close runs the registered shutdown functions in reverse order, bounded by
// the shutdown timeout. It keeps going after a failure and joins the errors.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	for i := len(a.shutdownFuncs) - 1; i >= 0; i-- {
		if err := a.shutdownFuncs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdownFuncs = nil
	return errors.Join(errs...)
}

// Client returns the platform client.
func (a *App) Client() *lightspeed.Client {
	return a.client
}

// Connect runs the interactive authorization flow for the store at domain.
// prompt receives the authorization URL; the call blocks until the browser
// returns to the redirect URL, ctx ends, or the connect timeout elapses.
func (a *App) Connect(ctx context.Context, domain string, prompt func(authURL string)) (err error) {
	if !a.cfg.Storage.Writable() {
		return fmt.Errorf("storage type %q cannot hold new credentials", a.cfg.Storage.Type)
	}

	server, err := callback.New(a.cfg.Platform.RedirectURL, func(ctx context.Context, q url.Values) error {
		_, err := a.client.CompleteAuthorization(ctx, q)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create callback server: %w", err)
	}

	authURL, err := a.client.BeginAuthorization(ctx, domain)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if cancelErr := a.client.CancelAuthorization(context.WithoutCancel(ctx)); cancelErr != nil {
			slog.WarnContext(ctx, "failed to discard pending authorization", "error", cancelErr)
		}
	}()

	connectCtx, cancel := context.WithTimeoutCause(ctx, a.cfg.Connect.Timeout, ErrConnectTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(connectCtx)

	slog.InfoContext(gCtx, "starting callback server", "address", server.Addr())
	serverErrCh, err := server.Start(gCtx)
	if err != nil {
		return fmt.Errorf("callback server startup failed: %w", err)
	}

	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "callback server runtime error", "error", err)
				return fmt.Errorf("callback server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		select {
		case err := <-server.Done():
			if err != nil {
				return err
			}
			// Stops the server monitor.
			return errDone
		case <-gCtx.Done():
			return context.Cause(gCtx)
		}
	})

	prompt(authURL)

	runtimeErr := g.Wait()
	if errors.Is(runtimeErr, errDone) {
		runtimeErr = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Shutdown.Timeout)
	defer shutdownCancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, runtimeErr)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "callback server shutdown failed", "error", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.InfoContext(ctx, "connected", "domain", domain)
	return nil
}

var errDone = errors.New("authorization completed")

// Status reports the stored connection without any network I/O.
func (a *App) Status(ctx context.Context) (Status, error) {
	r, err := a.creds.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !r.Authenticated() {
		return Status{}, nil
	}
	return Status{
		Connected: true,
		Domain:    r.Domain,
		ExpiresAt: r.ExpiresAt,
	}, nil
}

// Disconnect forgets the stored connection.
func (a *App) Disconnect(ctx context.Context) error {
	if !a.cfg.Storage.Writable() {
		return fmt.Errorf("storage type %q is read-only", a.cfg.Storage.Type)
	}
	return a.client.Disconnect(ctx)
}

// Request performs an authenticated API call and returns the decoded JSON body.
func (a *App) Request(ctx context.Context, method, path string, query url.Values, body json.RawMessage) (json.RawMessage, error) {
	opts := []lightspeed.RequestOption{
		lightspeed.WithMethod(method),
		lightspeed.WithQuery(query),
	}
	if len(body) > 0 {
		opts = append(opts, lightspeed.WithJSONBody(body))
	}
	return a.client.Request(ctx, path, opts...)
}

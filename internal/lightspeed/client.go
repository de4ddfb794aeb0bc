package lightspeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/retailctl/internal/credentials"
)

const (
	// DefaultTimeout bounds every call to the platform.
	DefaultTimeout = 30 * time.Second

	// DefaultRefreshBuffer is how long before expiry an access token is refreshed.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultPendingTTL bounds how long a handshake's state token is accepted.
	DefaultPendingTTL = 10 * time.Minute
)

var domainPrefixPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Config holds the OAuth application registration and platform location.
type Config struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	RedirectURL  string `validate:"required,url"`

	// PlatformHost defaults to DefaultPlatformHost.
	PlatformHost string `validate:"omitempty,hostname_rfc1123"`
	// AuthURL defaults to DefaultAuthURL.
	AuthURL string `validate:"omitempty,url"`
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets a custom base transport for token and API requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each network call. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRefreshBuffer sets how long before expiry a token is refreshed proactively.
func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Client) {
		c.refreshBuffer = d
	}
}

// WithPendingTTL sets how long a started handshake stays valid.
func WithPendingTTL(d time.Duration) Option {
	return func(c *Client) {
		c.pendingTTL = d
	}
}

// Client talks to one Lightspeed Retail store on behalf of the local user.
// It is safe for concurrent use; create one per process and share it.
type Client struct {
	cfg   Config
	creds *credentials.Credentials

	baseTransport http.RoundTripper
	httpClient    *http.Client
	timeout       time.Duration
	refreshBuffer time.Duration
	pendingTTL    time.Duration
	now           func() time.Time
	logger        *slog.Logger
	validate      *validator.Validate

	refreshGroup singleflight.Group

	// writeMu orders credential writes against Disconnect; epoch counts sessions
	// so a refresh that started in an older one never touches the current record.
	writeMu sync.Mutex
	epoch   uint64
}

// New creates a Client storing its state in creds.
// No I/O is performed until the first operation.
func New(creds *credentials.Credentials, cfg Config, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("missing credentials")
	}
	if cfg.PlatformHost == "" {
		cfg.PlatformHost = DefaultPlatformHost
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}

	validate := validator.New()
	if err := validate.RegisterValidation("domain_prefix", func(fl validator.FieldLevel) bool {
		return domainPrefixPattern.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("registering domain validation: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}

	c := &Client{
		cfg:           cfg,
		creds:         creds,
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		refreshBuffer: DefaultRefreshBuffer,
		pendingTTL:    DefaultPendingTTL,
		now:           time.Now,
		logger:        slog.Default(),
		validate:      validate,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient = &http.Client{
		Timeout:   c.timeout,
		Transport: c.baseTransport,
	}

	return c, nil
}

// IsAuthenticated reports whether an access token and domain are stored.
// It performs no network I/O and does not check whether the token is still accepted.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	r, err := c.creds.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read credentials", "error", err)
		return false
	}
	return r.Authenticated()
}

// Domain returns the connected store's domain prefix.
func (c *Client) Domain(ctx context.Context) (string, error) {
	r, err := c.creds.Load(ctx)
	if err != nil {
		return "", err
	}
	if !r.Authenticated() {
		return "", ErrNotAuthenticated
	}
	return r.Domain, nil
}

// Disconnect clears all stored credentials and any pending handshake. Calling it again is a no-op.
func (c *Client) Disconnect(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.epoch++
	if err := c.creds.Clear(ctx); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "disconnected from store")
	return nil
}

// oauthConfig describes the OAuth application for one store.
func (c *Client) oauthConfig(domain string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.cfg.AuthURL,
			TokenURL:  c.tokenURL(domain),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext injects the client's bounded HTTP client into ctx for the oauth2 package.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// validateDomain checks a domain prefix against the platform's subdomain rules.
func (c *Client) validateDomain(domain string) error {
	if err := c.validate.Var(domain, "required,max=63,domain_prefix"); err != nil {
		return fmt.Errorf("%w %q: lowercase letters, numbers and hyphens only", ErrInvalidDomain, domain)
	}
	return nil
}

// saveIfCurrent writes r unless the session changed after epoch was observed.
// A new session moves the epoch forward so older writers lose.
func (c *Client) saveIfCurrent(ctx context.Context, epoch uint64, r credentials.Record, newSession bool) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.epoch != epoch {
		return false, nil
	}
	if newSession {
		c.epoch++
	}
	return true, c.creds.Save(ctx, r)
}

// clearIfCurrent drops the credential record unless the session changed after epoch
// was observed. A pending authorization is left in place.
func (c *Client) clearIfCurrent(ctx context.Context, epoch uint64) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.epoch != epoch {
		return false, nil
	}
	return true, c.creds.ClearRecord(ctx)
}

// currentEpoch returns the session counter.
func (c *Client) currentEpoch() uint64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.epoch
}

// Package credentials maps the integration's persisted state onto a tokenstore.Store.
//
// Two records are kept: the long-lived Record (access token, refresh token,
// tenant domain and expiry) and the transient Pending authorization handshake.
package credentials

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/florianilch/retailctl/internal/tokenstore"
)

// Persisted keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyDomain       = "domain_prefix"
	KeyExpiresAt    = "token_expires"

	KeyPendingState     = "oauth_state"
	KeyPendingDomain    = "oauth_domain_prefix"
	KeyPendingCreatedAt = "oauth_state_created"
)

var (
	recordKeys  = []string{KeyAccessToken, KeyRefreshToken, KeyDomain, KeyExpiresAt}
	pendingKeys = []string{KeyPendingState, KeyPendingDomain, KeyPendingCreatedAt}
)

// Record is the device-wide credential set for one connected store.
type Record struct {
	AccessToken  string
	RefreshToken string
	Domain       string
	// ExpiresAt is zero when no expiry has been recorded.
	ExpiresAt time.Time
}

// Authenticated reports whether both the access token and domain are present.
func (r Record) Authenticated() bool {
	return r.AccessToken != "" && r.Domain != ""
}

// ExpiresWithin reports whether the access token expires within d of now.
// A record without an expiry never reports expiring; the server's 401 decides instead.
func (r Record) ExpiresWithin(now time.Time, d time.Duration) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(r.ExpiresAt.Add(-d))
}

// Pending is the state of one in-flight authorization handshake.
type Pending struct {
	State     string
	Domain    string
	CreatedAt time.Time
}

// Credentials reads and writes Record and Pending through a Store.
type Credentials struct {
	store tokenstore.Store
}

// New creates Credentials backed by store.
func New(store tokenstore.Store) (*Credentials, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	return &Credentials{store: store}, nil
}

// Load returns the stored record from a single read of the store. Absent fields are left empty.
func (c *Credentials) Load(ctx context.Context) (Record, error) {
	fields, err := c.store.GetMany(ctx, recordKeys...)
	if err != nil {
		return Record{}, fmt.Errorf("reading credentials: %w", err)
	}

	expiresAt, err := parseMillis(KeyExpiresAt, fields[KeyExpiresAt])
	if err != nil {
		return Record{}, err
	}
	return Record{
		AccessToken:  fields[KeyAccessToken],
		RefreshToken: fields[KeyRefreshToken],
		Domain:       fields[KeyDomain],
		ExpiresAt:    expiresAt,
	}, nil
}

// Save writes every field of r in a single Set call.
func (c *Credentials) Save(ctx context.Context, r Record) error {
	fields := map[string]string{
		KeyAccessToken:  r.AccessToken,
		KeyRefreshToken: r.RefreshToken,
		KeyDomain:       r.Domain,
		KeyExpiresAt:    formatMillis(r.ExpiresAt),
	}
	if err := c.store.Set(ctx, fields); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// Clear removes the record and any pending handshake.
func (c *Credentials) Clear(ctx context.Context) error {
	keys := append(append([]string{}, recordKeys...), pendingKeys...)
	if err := c.store.Clear(ctx, keys...); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}

// ClearRecord removes the record but keeps a pending handshake.
func (c *Credentials) ClearRecord(ctx context.Context) error {
	if err := c.store.Clear(ctx, recordKeys...); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	return nil
}

// LoadPending returns the pending handshake. ok is false when none exists.
func (c *Credentials) LoadPending(ctx context.Context) (p Pending, ok bool, err error) {
	fields, err := c.store.GetMany(ctx, pendingKeys...)
	if err != nil {
		return Pending{}, false, fmt.Errorf("reading pending authorization: %w", err)
	}
	if fields[KeyPendingState] == "" {
		return Pending{}, false, nil
	}

	createdAt, err := parseMillis(KeyPendingCreatedAt, fields[KeyPendingCreatedAt])
	if err != nil {
		return Pending{}, false, err
	}
	return Pending{
		State:     fields[KeyPendingState],
		Domain:    fields[KeyPendingDomain],
		CreatedAt: createdAt,
	}, true, nil
}

// SavePending replaces any earlier pending handshake.
func (c *Credentials) SavePending(ctx context.Context, p Pending) error {
	fields := map[string]string{
		KeyPendingState:     p.State,
		KeyPendingDomain:    p.Domain,
		KeyPendingCreatedAt: formatMillis(p.CreatedAt),
	}
	if err := c.store.Set(ctx, fields); err != nil {
		return fmt.Errorf("saving pending authorization: %w", err)
	}
	return nil
}

// ClearPending removes the pending handshake.
func (c *Credentials) ClearPending(ctx context.Context) error {
	if err := c.store.Clear(ctx, pendingKeys...); err != nil {
		return fmt.Errorf("clearing pending authorization: %w", err)
	}
	return nil
}

func parseMillis(key, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

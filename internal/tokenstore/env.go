package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore provides read-only access to fields stored in environment variables.
// A key such as "access_token" is looked up as <prefix>ACCESS_TOKEN.
// Suitable for inspecting pre-provisioned credentials but not OAuth (requires writable storage).
type EnvStore struct {
	prefix string
	lookup func(string) (string, bool)
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading variables with the given prefix.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix: prefix,
		lookup: os.LookupEnv,
	}, nil
}

// Get returns the field from the environment. Empty variables count as absent.
func (e *EnvStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	v, ok := e.lookup(e.envKey(key))
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// GetMany returns the present keys from the environment.
func (e *EnvStore) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := e.lookup(e.envKey(key)); ok && v != "" {
			out[key] = v
		}
	}
	return out, nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvStore) Set(ctx context.Context, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("environment variable storage: %w", ErrReadOnly)
}

// Clear is not supported for environment variables (they are read-only).
func (e *EnvStore) Clear(ctx context.Context, _ ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("environment variable storage: %w", ErrReadOnly)
}

func (e *EnvStore) envKey(key string) string {
	return e.prefix + strings.ToUpper(key)
}

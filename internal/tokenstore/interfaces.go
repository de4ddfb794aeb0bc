package tokenstore

import (
	"context"
	"errors"
)

// ErrReadOnly is returned by Set and Clear on stores that cannot be written.
var ErrReadOnly = errors.New("token store is read-only")

// Store is a small key/value persistence layer for credential fields.
//
// OAuth authentication requires writable storage.
type Store interface {
	// Get returns the value stored under key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// GetMany returns the present keys among keys, read in one consistent step.
	// Absent keys are omitted from the result.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)

	// Set writes all fields in one step. Either every field is persisted or none is.
	Set(ctx context.Context, fields map[string]string) error

	// Clear removes the given keys. Missing keys are not an error.
	Clear(ctx context.Context, keys ...string) error
}

// pick copies the present keys out of fields.
func pick(fields map[string]string, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

package tokenstore

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps fields in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	fields map[string]string
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fields: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.fields[key]
	return v, ok, nil
}

// GetMany returns the present keys under a single lock.
func (m *MemoryStore) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return pick(m.fields, keys), nil
}

// Set writes all fields under a single lock.
func (m *MemoryStore) Set(ctx context.Context, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.fields, fields)
	return nil
}

// Clear removes the given keys.
func (m *MemoryStore) Clear(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.fields, k)
	}
	return nil
}

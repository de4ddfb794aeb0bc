package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// All fields live in one secret so a field-set is replaced in a single keyring call.
type KeyringStore struct {
	service string
	user    string

	mu sync.Mutex
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore for the OS-native credential storage
// (macOS Keychain, Windows Credential Manager, etc.) using the given service and user identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Get returns the field from the system keyring.
func (k *KeyringStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	fields, err := k.read()
	if err != nil {
		return "", false, err
	}
	v, ok := fields[key]
	return v, ok, nil
}

// GetMany returns the present keys from one keyring lookup.
func (k *KeyringStore) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	fields, err := k.read()
	if err != nil {
		return nil, err
	}
	return pick(fields, keys), nil
}

// Set merges fields into the stored secret, overwriting existing values.
func (k *KeyringStore) Set(ctx context.Context, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	current, err := k.read()
	if err != nil {
		return err
	}
	maps.Copy(current, fields)
	return k.write(current)
}

// Clear removes keys from the stored secret. The secret is deleted once empty.
func (k *KeyringStore) Clear(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	current, err := k.read()
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(current, key)
	}
	if len(current) == 0 {
		if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
		return nil
	}
	return k.write(current)
}

func (k *KeyringStore) read() (map[string]string, error) {
	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}

	fields := make(map[string]string)
	if secret == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(secret), &fields); err != nil {
		return nil, fmt.Errorf("parsing keyring secret for service %s, user %s: %w", k.service, k.user, err)
	}
	return fields, nil
}

func (k *KeyringStore) write(fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	return keyring.Set(k.service, k.user, string(data))
}

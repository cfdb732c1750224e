// Package credentials keeps N-central API credentials (JWTs) out of the config file.
//
// Profiles store only server addresses. Secrets live in the OS keyring under the profile name,
// with "<profile>_dest" holding the destination credential of a migration profile.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/desertthunder/ncx/internal/shared"
)

// ServiceName is the keyring service every credential is filed under.
const ServiceName = "nc-data-export"

// verifyDelay gives platform keyrings time to commit before a store is read back.
const verifyDelay = 50 * time.Millisecond

// Store saves and loads secrets by key.
type Store interface {
	Store(key, secret string) error
	// Get reports whether a secret exists. A missing key is not an error.
	Get(key string) (string, bool, error)
	Delete(key string) error
}

// KeyringStore is a [Store] backed by the OS keyring.
type KeyringStore struct {
	Service string
}

// NewKeyringStore creates a store under [ServiceName].
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{Service: ServiceName}
}

func (k *KeyringStore) Store(key, secret string) error {
	if err := keyring.Set(k.Service, key, secret); err != nil {
		return fmt.Errorf("%w: failed to store %s: %v", shared.ErrCredentialStore, key, err)
	}
	return nil
}

func (k *KeyringStore) Get(key string) (string, bool, error) {
	secret, err := keyring.Get(k.Service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%w: failed to read %s: %v", shared.ErrCredentialStore, key, err)
	}
	return secret, true, nil
}

func (k *KeyringStore) Delete(key string) error {
	if err := keyring.Delete(k.Service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: failed to delete %s: %v", shared.ErrCredentialStore, key, err)
	}
	return nil
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: map[string]string{}}
}

func (m *MemoryStore) Store(key, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = secret
	return nil
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[key]
	return s, ok, nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}

// SaveAndVerify stores secret, waits briefly, and reads it back.
func SaveAndVerify(ctx context.Context, s Store, key, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: empty credential for %s", shared.ErrMissingCredentials, key)
	}
	if err := s.Store(key, secret); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(verifyDelay):
	}

	got, ok, err := s.Get(key)
	if err != nil {
		return err
	}
	if !ok || got != secret {
		return fmt.Errorf("%w: credential for %s did not persist", shared.ErrCredentialStore, key)
	}
	return nil
}

// Require returns the secret for key or [shared.ErrMissingCredentials].
func Require(s Store, key string) (string, error) {
	secret, ok, err := s.Get(key)
	if err != nil {
		return "", err
	}
	if !ok || secret == "" {
		return "", fmt.Errorf("%w: no credential stored for %q", shared.ErrMissingCredentials, key)
	}
	return secret, nil
}

// HasCredential reports whether a non-empty secret is stored. Store errors count as absent.
func HasCredential(s Store, key string) bool {
	secret, ok, err := s.Get(key)
	return err == nil && ok && secret != ""
}

package bugdrill

import (
	"context"
	"errors"
	"sync"
)

// Storage keys used by the client. A Store only ever sees these.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// StorageKeys lists every key the client persists, in clearing order.
var StorageKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrKeyNotFound is returned by Store.Get when no value exists for a key.
var ErrKeyNotFound = errors.New("key not found")

// Store is durable key/value storage for credentials and the cached profile.
// Writes survive process restarts. Operations are atomic per key but not
// transactional across keys; callers must not assume multi-key consistency
// mid-failure. Any storage fault is surfaced as an error and callers treat it
// as "no credential" (fail closed).
type Store interface {
	// Get retrieves the value for a key, or ErrKeyNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// SetAll stores every entry in the map.
	SetAll(ctx context.Context, entries map[string]string) error

	// RemoveAll deletes the given keys. Missing keys are not an error.
	RemoveAll(ctx context.Context, keys ...string) error
}

// MemoryStore is an in-process Store. It satisfies the Store contract except
// durability, which makes it the default for tests and short-lived tools.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get retrieves the value for a key, or ErrKeyNotFound if absent.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// SetAll stores every entry in the map.
func (s *MemoryStore) SetAll(ctx context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.values[k] = v
	}
	return nil
}

// RemoveAll deletes the given keys.
func (s *MemoryStore) RemoveAll(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

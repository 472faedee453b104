// Package fs provides a file-backed credential store for the bugdrill
// client. Values are kept as a JSON file under the user config directory so
// a signed-in session survives process restarts.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bugdrill/bugdrill-go"
)

// Store persists key/value pairs as a JSON file. Every mutation is written
// through to disk before returning, so each operation is individually
// durable.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// storeFile is the JSON structure written to disk.
type storeFile struct {
	Values map[string]string `json:"values"`
}

// NewStore creates a file-backed store at path. If path is empty it defaults
// to ~/.config/bugdrill/credentials.json (per os.UserConfigDir). Existing
// contents are loaded; a missing file is not an error.
func NewStore(path string) (*Store, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		path = filepath.Join(configDir, "bugdrill", "credentials.json")
	}

	store := &Store{
		path:   path,
		values: make(map[string]string),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// Path returns the path to the credentials file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	s.values = file.Values
	if s.values == nil {
		s.values = make(map[string]string)
	}

	return nil
}

// save writes the current values to disk. Caller must hold s.mu.
func (s *Store) save() error {
	// Restricted permissions: the file holds live credentials.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Values: s.values}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	return nil
}

// Get retrieves the value for a key, or bugdrill.ErrKeyNotFound if absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", bugdrill.ErrKeyNotFound
	}
	return v, nil
}

// SetAll stores every entry and writes the file through to disk.
func (s *Store) SetAll(ctx context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.values[k] = v
	}
	return s.save()
}

// RemoveAll deletes the given keys and writes the file through to disk.
func (s *Store) RemoveAll(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return s.save()
}

// Package securefs provides an encrypted file-backed credential store for
// the bugdrill client. The file is sealed with AES-GCM under a key derived
// from a passphrase, for hosts where the plain JSON store is too exposed.
package securefs

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/bugdrill/bugdrill-go"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100_000
)

// Store persists key/value pairs as an AES-GCM sealed file. Every mutation
// is written through to disk before returning.
type Store struct {
	mu         sync.RWMutex
	path       string
	passphrase string
	values     map[string]string
}

type storeFile struct {
	Values map[string]string `json:"values"`
}

// NewStore creates an encrypted store at path sealed with passphrase.
// Existing contents are loaded; a missing file is not an error. Opening an
// existing file with the wrong passphrase fails.
func NewStore(path, passphrase string) (*Store, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required")
	}

	store := &Store{
		path:       path,
		passphrase: passphrase,
		values:     make(map[string]string),
	}

	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// deriveKey stretches the passphrase into an AES-256 key with PBKDF2.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

func (s *Store) load() error {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if len(payload) < saltSize {
		return fmt.Errorf("credentials file truncated")
	}

	salt := payload[:saltSize]
	gcm, err := newGCM(deriveKey(s.passphrase, salt))
	if err != nil {
		return err
	}

	sealed := payload[saltSize:]
	if len(sealed) < gcm.NonceSize() {
		return fmt.Errorf("credentials file truncated")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials (wrong passphrase?): %w", err)
	}

	var file storeFile
	if err := json.Unmarshal(plain, &file); err != nil {
		return fmt.Errorf("failed to parse credentials: %w", err)
	}

	s.values = file.Values
	if s.values == nil {
		s.values = make(map[string]string)
	}

	return nil
}

// save seals the current values and writes them to disk. Caller must hold
// s.mu. A fresh salt and nonce are used for every write.
func (s *Store) save() error {
	plain, err := json.Marshal(storeFile{Values: s.values})
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}

	gcm, err := newGCM(deriveKey(s.passphrase, salt))
	if err != nil {
		return err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	payload := append(salt, gcm.Seal(nonce, nonce, plain, nil)...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
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

// SetAll stores every entry and reseals the file.
func (s *Store) SetAll(ctx context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.values[k] = v
	}
	return s.save()
}

// RemoveAll deletes the given keys and reseals the file.
func (s *Store) RemoveAll(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return s.save()
}

package bugdrill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh_NoRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SetAll(ctx, map[string]string{KeyAccessToken: "orphan"}))

	client := NewClient("http://localhost:1", store)

	_, err := client.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	_, err = store.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrKeyNotFound, "orphaned access token should be cleared")
}

func TestRefresh_StoreFaultIsTerminal(t *testing.T) {
	var refreshCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
	}))
	defer server.Close()

	store := &faultyStore{}
	var expired int32
	client := NewClient(server.URL, store,
		WithSessionExpiredHook(func() { atomic.AddInt32(&expired, 1) }))

	// An unreadable refresh token is indistinguishable from a missing one:
	// terminal, no refresh call, credentials cleared.
	_, err := client.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.EqualValues(t, 0, atomic.LoadInt32(&refreshCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&expired))
	assert.ElementsMatch(t, StorageKeys, store.removedKeys())
}

func TestRefresh_NetworkFailureClearsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // unreachable

	ctx := context.Background()
	store := NewMemoryStore()
	seedTokens(t, store, "a", "r")

	client := NewClient(server.URL, store)

	_, err := client.Refresh(ctx)
	require.Error(t, err)

	for _, key := range StorageKeys {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrKeyNotFound, "key %s should be cleared", key)
	}
}

func TestRefresh_PersistsRotatedRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"),
			"refresh must bypass the authenticating transport")

		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
		})
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	seedTokens(t, store, "old-access", "old-refresh")

	client := NewClient(server.URL, store)

	token, err := client.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	access, err := store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)

	refresh, err := store.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh, "rotated refresh token should replace the old one")
}

func TestRefresh_KeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthResponse{AccessToken: "new-access"})
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	seedTokens(t, store, "old-access", "keep-me")

	client := NewClient(server.URL, store)

	_, err := client.Refresh(ctx)
	require.NoError(t, err)

	refresh, err := store.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "keep-me", refresh)
}

package bugdrill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser(id, email string) *User {
	return &User{
		ID:          id,
		Email:       email,
		DisplayName: "Test User",
		Role:        "user",
	}
}

func TestClient_Login_StoresCredentialsAndUser(t *testing.T) {
	user := testUser("u1", "user@example.com")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "user@example.com", req.Email)
		require.Equal(t, "password123", req.Password)

		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken:  "access-token-123",
			RefreshToken: "refresh-token-456",
			User:         user,
		})
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	client := NewClient(server.URL, store)

	got, err := client.Login(ctx, "user@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Email)

	access, err := store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-token-123", access)

	refresh, err := store.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-456", refresh)

	cached, err := client.CachedUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", cached.ID)
}

func TestClient_Login_InvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	client := NewClient(server.URL, store)

	_, err := client.Login(ctx, "user@example.com", "wrong")
	require.Error(t, err)

	var apiErr APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid credentials", apiErr.Message)
	assert.True(t, apiErr.Unauthorized())

	_, err = store.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrKeyNotFound, "nothing should be stored after a failed login")
}

func TestClient_Login_RejectsPartialCredentialPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken: "access-only",
			User:        testUser("u1", "user@example.com"),
		})
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	client := NewClient(server.URL, store)

	_, err := client.Login(ctx, "user@example.com", "password123")
	require.Error(t, err)

	_, err = store.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClient_Signup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/signup", r.URL.Path)

		var req signupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "New User", req.DisplayName)

		json.NewEncoder(w).Encode(AuthResponse{
			AccessToken:  "a",
			RefreshToken: "r",
			User:         testUser("u2", req.Email),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, NewMemoryStore())

	user, err := client.Signup(context.Background(), "new@example.com", "password123", "New User")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
}

func TestClient_Me_UpdatesCachedProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/me", r.URL.Path)
		json.NewEncoder(w).Encode(testUser("u1", "fresh@example.com"))
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SetAll(ctx, map[string]string{
		KeyAccessToken:  "tok",
		KeyRefreshToken: "ref",
		KeyUser:         `{"id":"u1","email":"stale@example.com"}`,
	}))

	client := NewClient(server.URL, store)

	user, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh@example.com", user.Email)

	cached, err := client.CachedUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh@example.com", cached.Email, "cached profile should be replaced, not merged")
}

func TestClient_Logout_ClearsStoreEvenWhenServerFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SetAll(ctx, map[string]string{
		KeyAccessToken:  "a",
		KeyRefreshToken: "r",
		KeyUser:         "{}",
	}))

	client := NewClient(server.URL, store)
	require.NoError(t, client.Logout(ctx))

	for _, key := range StorageKeys {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrKeyNotFound, "key %s should be cleared", key)
	}
}

func TestClient_Logout_ClearsStoreWhenServerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SetAll(ctx, map[string]string{KeyAccessToken: "a"}))

	client := NewClient(server.URL, store)
	require.NoError(t, client.Logout(ctx))

	_, err := store.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClient_Credential_PartialPairIsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SetAll(ctx, map[string]string{KeyAccessToken: "a"}))

	client := NewClient("http://localhost:1", store)

	cred, err := client.Credential(ctx)
	require.NoError(t, err)
	assert.False(t, cred.Complete())
	assert.Empty(t, cred.AccessToken)
}

func TestClient_TokenSource(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	client := NewClient("http://localhost:1", store)

	_, err := client.TokenSource(ctx).Token()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, store.SetAll(ctx, map[string]string{KeyAccessToken: "tok"}))

	tok, err := client.TokenSource(ctx).Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}

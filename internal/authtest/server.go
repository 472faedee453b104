// Package authtest provides an in-memory bugdrill identity service for tests
// and local development. It issues real signed JWTs, rotates refresh tokens
// on use (a refresh token is valid exactly once), and exposes knobs to expire
// tokens or fail endpoints on demand.
package authtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/bugdrill/bugdrill-go"
)

type account struct {
	user     bugdrill.User
	password string
}

// Server is a fake identity service bound to an httptest listener.
type Server struct {
	httpServer *httptest.Server
	secret     []byte
	accessTTL  time.Duration

	mu            sync.Mutex
	usersByEmail  map[string]*account
	usersByID     map[string]*account
	refreshTokens map[string]string // token -> user id, consumed on use
	generation    int64             // access tokens from older generations are rejected
	failRefresh   bool
	failMe        bool

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	logoutCalls  atomic.Int32
}

// New starts a fake identity service. Callers must Close it.
func New() *Server {
	s := &Server{
		secret:        []byte("authtest-" + uuid.NewString()),
		accessTTL:     15 * time.Minute,
		usersByEmail:  make(map[string]*account),
		usersByID:     make(map[string]*account),
		refreshTokens: make(map[string]string),
	}

	r := mux.NewRouter()
	r.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)

	s.httpServer = httptest.NewServer(r)
	return s
}

// URL returns the server's base address, suitable for bugdrill.NewClient.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Register seeds an account without going through the signup endpoint.
func (s *Server) Register(email, password, displayName string) bugdrill.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(email, password, displayName)
}

func (s *Server) registerLocked(email, password, displayName string) bugdrill.User {
	acct := &account{
		user: bugdrill.User{
			ID:                     uuid.NewString(),
			Email:                  email,
			DisplayName:            displayName,
			Role:                   "user",
			TrialSnippetsRemaining: 5,
			CreatedAt:              time.Now().UTC(),
		},
		password: password,
	}
	s.usersByEmail[email] = acct
	s.usersByID[acct.user.ID] = acct
	return acct.user
}

// ExpireAccessTokens invalidates every access token issued so far. Refresh
// tokens stay valid, simulating ordinary token expiry.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
}

// InvalidateRefreshTokens revokes all refresh tokens, so the next refresh
// fails terminally.
func (s *Server) InvalidateRefreshTokens() {
	s.mu.Lock()
	s.refreshTokens = make(map[string]string)
	s.mu.Unlock()
}

// FailRefresh makes the refresh endpoint reject every call while enabled.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	s.failRefresh = fail
	s.mu.Unlock()
}

// FailMe makes the profile endpoint return a server error while enabled,
// simulating a degraded backend with a still-valid token.
func (s *Server) FailMe(fail bool) {
	s.mu.Lock()
	s.failMe = fail
	s.mu.Unlock()
}

// LoginCalls reports how often the login endpoint was hit.
func (s *Server) LoginCalls() int { return int(s.loginCalls.Load()) }

// RefreshCalls reports how often the refresh endpoint was hit.
func (s *Server) RefreshCalls() int { return int(s.refreshCalls.Load()) }

// MeCalls reports how often the profile endpoint was hit.
func (s *Server) MeCalls() int { return int(s.meCalls.Load()) }

// LogoutCalls reports how often the logout endpoint was hit.
func (s *Server) LogoutCalls() int { return int(s.logoutCalls.Load()) }

func (s *Server) issueTokensLocked(acct *account) (access, refresh string, err error) {
	claims := jwt.MapClaims{
		"user_id": acct.user.ID,
		"email":   acct.user.Email,
		"gen":     s.generation,
		"iat":     jwt.NewNumericDate(time.Now()),
		"exp":     jwt.NewNumericDate(time.Now().Add(s.accessTTL)),
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}

	refresh = uuid.NewString()
	s.refreshTokens[refresh] = acct.user.ID
	return access, refresh, nil
}

// authenticate resolves the bearer token on r to an account.
func (s *Server) authenticate(r *http.Request) (*account, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen, _ := claims["gen"].(float64)
	if int64(gen) != s.generation {
		return nil, fmt.Errorf("token expired")
	}

	userID, _ := claims["user_id"].(string)
	acct, ok := s.usersByID[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user")
	}
	return acct, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[req.Email]; exists {
		writeError(w, http.StatusBadRequest, "user with this email already exists")
		return
	}

	user := s.registerLocked(req.Email, req.Password, req.DisplayName)
	acct := s.usersByEmail[req.Email]

	access, refresh, err := s.issueTokensLocked(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, bugdrill.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         &user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.usersByEmail[req.Email]
	if !ok || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now().UTC()
	acct.user.LastLoginAt = &now

	access, refresh, err := s.issueTokensLocked(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, bugdrill.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         &acct.user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRefresh {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	userID, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		// Already consumed or revoked. A client that sends the same refresh
		// token twice lands here.
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(s.refreshTokens, req.RefreshToken)

	acct := s.usersByID[userID]
	access, refresh, err := s.issueTokensLocked(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, bugdrill.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         &acct.user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.meCalls.Add(1)

	s.mu.Lock()
	failMe := s.failMe
	s.mu.Unlock()
	if failMe {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	acct, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.logoutCalls.Add(1)

	acct, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	s.mu.Lock()
	for token, userID := range s.refreshTokens {
		if userID == acct.user.ID {
			delete(s.refreshTokens, token)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package bugdrill

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// State is a snapshot of the session. Authenticated implies User is non-nil;
// Err carries the latest user-facing message and is replaced wholesale on
// every transition, never accumulated.
type State struct {
	User          *User
	Authenticated bool
	Loading       bool
	Err           string
}

// ProfileCachePolicy decides what CheckAuth does when the live profile fetch
// fails but a stored access token exists.
type ProfileCachePolicy int

const (
	// CacheFallback keeps the user signed in with the last cached profile
	// until the next successful fetch or an authorization failure. This is
	// the reference behavior: availability over strict correctness.
	CacheFallback ProfileCachePolicy = iota

	// CacheDisabled surfaces the fetch failure as a retryable error instead
	// of silently falling back to stale data.
	CacheDisabled
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithProfileCachePolicy selects the CheckAuth degradation behavior.
func WithProfileCachePolicy(p ProfileCachePolicy) SessionOption {
	return func(s *Session) {
		s.policy = p
	}
}

// WithSessionLogger attaches a structured logger to the session.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is the authentication state machine. Login, Signup, Logout and
// CheckAuth are the only mutators of "who is the current user"; every
// transition is broadcast to subscribers. A Session lives for the process
// lifetime and starts in the loading state, pending the first CheckAuth.
type Session struct {
	client *Client
	policy ProfileCachePolicy
	logger zerolog.Logger

	mu    sync.Mutex
	state State

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewSession creates a session on top of a client. The session registers
// itself for the client's terminal refresh failures, so an expired refresh
// token forces the unauthenticated state even outside a session-initiated
// call.
func NewSession(client *Client, opts ...SessionOption) *Session {
	s := &Session{
		client: client,
		logger: zerolog.Nop(),
		state:  State{Loading: true},
		subs:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	client.setSessionExpiredHook(s.expired)
	return s
}

// Client returns the API client this session drives.
func (s *Session) Client() *Client {
	return s.client
}

// State returns the current session snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to be called with a snapshot after every transition.
// The returned cancel function removes the subscription.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// ClearError drops the current error message, leaving the rest of the state
// untouched, so a UI can dismiss a failed attempt without waiting for the
// next transition. A session with no error is left as is.
func (s *Session) ClearError() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	if st.Err == "" {
		return
	}
	st.Err = ""
	s.setState(st)
}

// setState is the single writer of session state. It enforces the invariant
// that Authenticated implies a present user, then notifies subscribers.
func (s *Session) setState(st State) {
	if st.User == nil {
		st.Authenticated = false
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// Login authenticates with email and password. On success the session is
// authenticated and the user is returned; on failure the session carries the
// server-provided message (or a generic fallback) and the error is returned
// so the caller can react.
func (s *Session) Login(ctx context.Context, email, password string) (*User, error) {
	s.setState(State{Loading: true})

	user, err := s.client.Login(ctx, email, password)
	if err != nil {
		s.setState(State{Err: userMessage(err, "login failed")})
		return nil, err
	}

	s.setState(State{User: user, Authenticated: true})
	return user, nil
}

// Signup registers a new account and signs it in. Symmetric to Login.
func (s *Session) Signup(ctx context.Context, email, password, displayName string) (*User, error) {
	s.setState(State{Loading: true})

	user, err := s.client.Signup(ctx, email, password, displayName)
	if err != nil {
		s.setState(State{Err: userMessage(err, "signup failed")})
		return nil, err
	}

	s.setState(State{User: user, Authenticated: true})
	return user, nil
}

// Logout clears the session. The server-side call is best effort; local
// logout is never blocked by server unavailability and always ends in the
// unauthenticated state.
func (s *Session) Logout(ctx context.Context) error {
	s.setState(State{Loading: true})

	if err := s.client.Logout(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("logout cleanup failed")
	}

	s.setState(State{})
	return nil
}

// CheckAuth reconciles locally cached identity with the server at process
// start. With no stored access token it settles unauthenticated without a
// network call. Otherwise it fetches the live profile; on failure it falls
// back to the cached profile per the configured policy.
func (s *Session) CheckAuth(ctx context.Context) error {
	s.setState(State{Loading: true})

	token, err := s.client.Token(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential store read failed during checkAuth")
		token = ""
	}
	if token == "" {
		s.setState(State{})
		return nil
	}

	user, err := s.client.Me(ctx)
	if err == nil {
		s.setState(State{User: user, Authenticated: true})
		return nil
	}

	if s.policy == CacheDisabled {
		s.setState(State{Err: userMessage(err, "could not verify session")})
		return err
	}

	cached, cacheErr := s.client.CachedUser(ctx)
	if cacheErr == nil && cached != nil {
		s.logger.Info().Str("user", cached.ID).Msg("profile fetch failed, using cached profile")
		s.setState(State{User: cached, Authenticated: true})
		return nil
	}

	// An authorization failure here means the refresh already failed
	// terminally and wiped the cache: prompt for a fresh sign-in.
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		s.setState(State{Err: "please sign in again"})
		return nil
	}

	s.setState(State{})
	return nil
}

// expired runs after a terminal refresh failure: credentials are gone, so the
// session drops to unauthenticated with a message prompting a new sign-in.
func (s *Session) expired() {
	s.setState(State{Err: "please sign in again"})
}

package bugdrill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults matching the reference mobile configuration.
const (
	DefaultBaseURL = "http://localhost:8080/api/v1"
	DefaultTimeout = 10 * time.Second
)

// Client is an HTTP client for the bugdrill API with automatic token
// management. All requests pass through an authenticating transport that
// attaches the stored access token and transparently refreshes it on an
// authorization failure.
type Client struct {
	baseURL       string
	store         Store
	httpClient    *http.Client
	baseTransport http.RoundTripper
	refresher     *refresher
	logger        zerolog.Logger
	metrics       *Metrics
	userAgent     string

	hookMu    sync.Mutex
	onExpired func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config,
// cookie jars). Its transport is wrapped with auth handling.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		if client.Timeout > 0 {
			c.httpClient.Timeout = client.Timeout
		}
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling,
// proxies, test doubles).
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		if transport != nil {
			c.baseTransport = transport
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics attaches transport metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithUserAgent sets the User-Agent header on outgoing requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithSessionExpiredHook registers fn to run after a terminal refresh
// failure, once all stored credentials have been cleared.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) {
		c.onExpired = fn
	}
}

// NewClient creates a client for the API at baseURL backed by the given
// credential store. An empty baseURL falls back to DefaultBaseURL; a nil
// store falls back to an in-memory one.
func NewClient(baseURL string, store Store, opts ...Option) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if store == nil {
		store = NewMemoryStore()
	}

	c := &Client{
		baseURL:       trimmed,
		store:         store,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		baseTransport: http.DefaultTransport,
		logger:        zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.refresher = newRefresher(c)
	c.httpClient.Transport = &authTransport{client: c, base: c.baseTransport}

	return c
}

// HTTPClient returns the underlying HTTP client with auth handling. It can be
// used directly for domain endpoints (patterns, snippets, progress) so they
// share the session's credential lifecycle.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL returns the API base address this client is configured for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Store returns the credential store backing this client.
func (c *Client) Store() Store {
	return c.store
}

// Token returns the stored access token, or "" when signed out. A storage
// fault is returned as an error; callers should treat it as signed out.
func (c *Client) Token(ctx context.Context) (string, error) {
	tok, err := c.store.Get(ctx, KeyAccessToken)
	if err == ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return tok, nil
}

// Credential returns the stored token pair. A partial pair is reported as
// absent (zero value).
func (c *Client) Credential(ctx context.Context) (Credential, error) {
	access, err := c.store.Get(ctx, KeyAccessToken)
	if err != nil && err != ErrKeyNotFound {
		return Credential{}, err
	}
	refresh, err := c.store.Get(ctx, KeyRefreshToken)
	if err != nil && err != ErrKeyNotFound {
		return Credential{}, err
	}
	cred := Credential{AccessToken: access, RefreshToken: refresh}
	if !cred.Complete() {
		return Credential{}, nil
	}
	return cred, nil
}

// CachedUser returns the last successfully fetched profile, or nil when none
// is stored. The cached record is not authoritative; any successful profile
// fetch supersedes it.
func (c *Client) CachedUser(ctx context.Context) (*User, error) {
	raw, err := c.store.Get(ctx, KeyUser)
	if err == ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}
	return &user, nil
}

// AuthResponse is the payload returned by the login, signup and refresh
// endpoints.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Login exchanges email and password for a token pair and persists it along
// with the user record.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := c.storeAuth(ctx, resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Signup registers a new account and persists the issued credentials.
func (c *Client) Signup(ctx context.Context, email, password, displayName string) (*User, error) {
	req := signupRequest{Email: email, Password: password, DisplayName: displayName}
	var resp AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	if err := c.storeAuth(ctx, resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Me fetches the live profile and updates the cached copy.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(&user)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	if err := c.store.SetAll(ctx, map[string]string{KeyUser: string(raw)}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache profile")
	}
	return &user, nil
}

// Logout invalidates the server-side session on a best-effort basis and
// clears all locally stored credentials. Server unavailability never blocks
// the local logout; only a storage fault is returned.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		c.logger.Warn().Err(err).Msg("server-side logout failed, clearing local credentials anyway")
	}
	return c.store.RemoveAll(ctx, StorageKeys...)
}

// Refresh exchanges the stored refresh token for a new access token and
// returns it. Concurrent callers share a single refresh call. On failure all
// stored credentials are cleared and the error is returned.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresher.Refresh(ctx)
}

// storeAuth persists a freshly issued credential pair and user record. Both
// tokens must be present; a partial pair is rejected before anything is
// written.
func (c *Client) storeAuth(ctx context.Context, resp AuthResponse) error {
	cred := Credential{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}
	if !cred.Complete() {
		return fmt.Errorf("server returned an incomplete credential pair")
	}
	entries := map[string]string{
		KeyAccessToken:  resp.AccessToken,
		KeyRefreshToken: resp.RefreshToken,
	}
	if resp.User != nil {
		raw, err := json.Marshal(resp.User)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		entries[KeyUser] = string(raw)
	}
	if err := c.store.SetAll(ctx, entries); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

func (c *Client) setSessionExpiredHook(fn func()) {
	c.hookMu.Lock()
	c.onExpired = fn
	c.hookMu.Unlock()
}

func (c *Client) sessionExpired() {
	c.hookMu.Lock()
	fn := c.onExpired
	c.hookMu.Unlock()
	if fn != nil {
		fn()
	}
}

// do performs a JSON request through the authenticating transport and decodes
// the response into v when non-nil. Error responses are returned as APIError.
func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractError pulls the message out of the server's {"error": "..."}
// envelope, falling back to the raw body.
func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

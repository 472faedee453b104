package bugdrill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// refresher turns the stored refresh token into a new access token exactly
// once per expiry event. Concurrent callers attach to the in-flight refresh
// and share its outcome instead of issuing their own call; using a refresh
// token twice risks racing server-side refresh-token invalidation.
type refresher struct {
	client *Client
	group  singleflight.Group
}

const refreshKey = "refresh"

func newRefresher(c *Client) *refresher {
	return &refresher{client: c}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh returns a fresh access token, persisting it on the way. On any
// failure (missing token, rejected token, network error) all stored
// credentials are cleared and the failure is returned; the session layer uses
// that as the signal to force re-authentication.
func (r *refresher) Refresh(ctx context.Context) (string, error) {
	// Refreshes run to completion even if the triggering caller goes away;
	// late arrivals sharing this flight still need the outcome.
	v, err, _ := r.group.Do(refreshKey, func() (any, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *refresher) refresh(ctx context.Context) (string, error) {
	c := r.client

	refreshToken, err := c.store.Get(ctx, KeyRefreshToken)
	if err != nil || refreshToken == "" {
		// Missing or unreadable refresh token is terminal.
		r.fail(ctx)
		return "", ErrNoRefreshToken
	}

	resp, err := r.requestToken(ctx, refreshToken)
	if err != nil {
		r.fail(ctx)
		return "", err
	}

	entries := map[string]string{KeyAccessToken: resp.AccessToken}
	if resp.RefreshToken != "" {
		// Server rotated the refresh token.
		entries[KeyRefreshToken] = resp.RefreshToken
	}
	if err := c.store.SetAll(ctx, entries); err != nil {
		r.fail(ctx)
		return "", fmt.Errorf("store refreshed credential: %w", err)
	}

	c.metrics.observeRefresh("success")
	c.logger.Debug().Msg("access token refreshed")
	return resp.AccessToken, nil
}

// requestToken calls the refresh endpoint over the base transport directly,
// bypassing the authenticating transport to avoid a refresh loop.
func (r *refresher) requestToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	c := r.client

	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	var tokenResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}
	io.Copy(io.Discard, resp.Body)
	return &tokenResp, nil
}

// fail clears every stored credential after a terminal refresh failure and
// notifies the session layer.
func (r *refresher) fail(ctx context.Context) {
	c := r.client
	c.metrics.observeRefresh("failure")
	if err := c.store.RemoveAll(ctx, StorageKeys...); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear credentials after refresh failure")
	}
	c.logger.Info().Msg("token refresh failed, credentials cleared")
	c.sessionExpired()
}

package bugdrill

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoRefreshToken is returned when a refresh is triggered but no refresh
// token is stored. It is terminal: the caller must re-authenticate.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ErrNotAuthenticated is returned when an operation needs a signed-in user
// but no access token is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError represents an error response from the bugdrill API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Unauthorized reports whether the server rejected the access token.
func (e APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// userMessage extracts a user-facing message from an error: the
// server-provided message when available, otherwise the fallback.
func userMessage(err error, fallback string) string {
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

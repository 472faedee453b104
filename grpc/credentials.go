// Package grpc provides gRPC credentials backed by a bugdrill session, so
// generated clients for collaborator services (such as the code executor)
// authenticate with the same token the HTTP client uses.
package grpc

import (
	"context"

	"google.golang.org/grpc/credentials"
)

// TokenProvider supplies the current access token. *bugdrill.Client
// implements it; the returned token may be empty when signed out.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenCredentials implements credentials.PerRPCCredentials by reading the
// provider's current token on every RPC, so it observes refreshes performed
// elsewhere in the session.
type TokenCredentials struct {
	provider TokenProvider

	// allowInsecure permits sending the token over non-TLS connections.
	// Only for local development.
	allowInsecure bool
}

var _ credentials.PerRPCCredentials = (*TokenCredentials)(nil)

// NewTokenCredentials creates per-RPC credentials backed by provider.
func NewTokenCredentials(provider TokenProvider) *TokenCredentials {
	return &TokenCredentials{provider: provider}
}

// NewInsecureTokenCredentials creates per-RPC credentials that may be sent
// over plaintext connections. Only for local development.
func NewInsecureTokenCredentials(provider TokenProvider) *TokenCredentials {
	return &TokenCredentials{provider: provider, allowInsecure: true}
}

// GetRequestMetadata attaches the current access token as a bearer
// credential. Signed-out sessions send no metadata.
func (c *TokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := c.provider.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// RequireTransportSecurity reports whether the credentials demand TLS.
func (c *TokenCredentials) RequireTransportSecurity() bool {
	return !c.allowInsecure
}

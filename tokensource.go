package bugdrill

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the client to oauth2.TokenSource so the session's
// credential can feed libraries that speak the oauth2 interfaces. The source
// reads the current stored token on every call, so it observes refreshes
// performed by the authenticating transport.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, client: c}
}

type tokenSource struct {
	ctx    context.Context
	client *Client
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.client.Token(ts.ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, ErrNotAuthenticated
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

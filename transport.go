package bugdrill

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey struct{}

// retriedKey marks a request that has already been replayed once after a
// token refresh. The marker lives on the request context so concurrently
// in-flight requests are judged independently.
var retriedKey contextKey

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

func wasRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey).(bool)
	return retried
}

// authTransport is an http.RoundTripper that attaches the stored access token
// to outgoing requests and recovers from authorization failures by driving
// one token refresh and replaying the request once.
type authTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A storage fault means no token: send unauthenticated (fail closed).
	token, err := t.client.Token(req.Context())
	if err != nil {
		t.client.logger.Warn().Err(err).Msg("credential store read failed, sending unauthenticated")
		token = ""
	}

	// RoundTrippers must not mutate the caller's request.
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	if out.Header.Get("X-Request-Id") == "" {
		out.Header.Set("X-Request-Id", uuid.NewString())
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	t.client.metrics.observeRequest(req.Method, resp.StatusCode)

	if resp.StatusCode != http.StatusUnauthorized || token == "" || wasRetried(req.Context()) {
		return resp, nil
	}

	// Authorization failure on a first attempt: refresh once, then replay.
	if _, refreshErr := t.client.refresher.Refresh(req.Context()); refreshErr != nil {
		// Terminal. Credentials are already cleared; hand the original
		// response back to the caller.
		return resp, nil
	}

	retry, ok := t.replayable(req)
	if !ok {
		return resp, nil
	}
	resp.Body.Close()

	t.client.metrics.observeAuthRetry()
	t.client.logger.Debug().Str("method", req.Method).Str("url", req.URL.Path).
		Msg("replaying request with refreshed token")

	return t.RoundTrip(retry)
}

// replayable clones req for the single post-refresh retry. Requests with a
// consumed one-shot body cannot be replayed.
func (t *authTransport) replayable(req *http.Request) (*http.Request, bool) {
	retry := req.Clone(markRetried(req.Context()))
	if req.Body == nil || req.Body == http.NoBody {
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}

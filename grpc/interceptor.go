package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Refresher drives one token refresh per expiry event. *bugdrill.Client
// implements it.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type contextKey struct{}

// retriedKey marks a call already replayed once after a refresh, carried on
// the call context so concurrent RPCs are judged independently.
var retriedKey contextKey

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

func wasRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey).(bool)
	return retried
}

// UnaryAuthRetryInterceptor returns a client interceptor mirroring the HTTP
// transport's recovery: on Unauthenticated and not yet retried, drive one
// refresh through the coordinator and replay the call once. The refreshed
// token is picked up by TokenCredentials on the replay.
func UnaryAuthRetryInterceptor(refresher Refresher) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err == nil {
			return nil
		}
		if status.Code(err) != codes.Unauthenticated || wasRetried(ctx) {
			return err
		}
		if _, refreshErr := refresher.Refresh(ctx); refreshErr != nil {
			// Terminal; surface the original authorization failure.
			return err
		}
		return invoker(markRetried(ctx), method, req, reply, cc, opts...)
	}
}

// Package reqctx carries per-request values between middleware and handlers.
package reqctx

import (
	"context"

	"github.com/nkiryanov/gopherauth/internal/service/auth/tokenmanager"
)

type ctxKey string

const (
	identityKey  ctxKey = "identity"
	requestIDKey ctxKey = "request_id"
)

// Create a new context with the authenticated identity
func WithIdentity(ctx context.Context, id tokenmanager.AccessIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Extract the identity from the context
func Identity(ctx context.Context) (tokenmanager.AccessIdentity, bool) {
	id, ok := ctx.Value(identityKey).(tokenmanager.AccessIdentity)
	return id, ok
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID is empty if not set
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

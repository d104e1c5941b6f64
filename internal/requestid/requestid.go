// Package requestid propagates a per-request correlation ID through context.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// New generates a fresh request ID and returns a context carrying it.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}

// WithRequestID returns a context carrying the given ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request ID from ctx, generating one if absent so
// callers always have something to log.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

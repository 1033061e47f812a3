// Package middleware implements the receiver's HTTP middleware chain:
// admission at the listener level, then auth, rate limiting, CORS, and
// tracing on every request.
package middleware

import (
	"context"

	"ingestpipe/pkg/domain"
)

type contextKey int

const sourceContextKey contextKey = iota

// WithSource stores the authenticated source on ctx.
func WithSource(ctx context.Context, source *domain.Source) context.Context {
	return context.WithValue(ctx, sourceContextKey, source)
}

// SourceFromContext retrieves the source authenticated by the Auth
// middleware. Returns nil if no source was attached.
func SourceFromContext(ctx context.Context) *domain.Source {
	source, _ := ctx.Value(sourceContextKey).(*domain.Source)
	return source
}

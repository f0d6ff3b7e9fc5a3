// Package common holds the request-scoped values shared by the middlewares
// and the response writer.
package common

import (
	"context"

	"github.com/kart-io/sentinel-kb/pkg/id"
)

// HeaderXRequestID is the header carrying the request id in both directions.
const HeaderXRequestID = "X-Request-ID"

// RequestIDKey is the context key of the request id.
type RequestIDKey struct{}

// GetRequestID returns the request id stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(RequestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey{}, requestID)
}

// GenerateRequestID returns a new time-sortable request id.
func GenerateRequestID() string {
	return id.NewULID()
}

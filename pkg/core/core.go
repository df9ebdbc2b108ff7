package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// NewRequestID returns a fresh request ID.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID returns a new context carrying reqID. An empty reqID is
// replaced by a generated one.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewRequestID()
	}
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// RequestIDFromCtx returns the request ID stored in ctx, if any.
func RequestIDFromCtx(ctx context.Context) string {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	return reqID
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if reqID := RequestIDFromCtx(ctx); reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}

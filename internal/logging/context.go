package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog"
)

type contextKey string

const loggerKey contextKey = "logger"

// GenerateTraceID generates a new trace ID.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context, falling back to the
// default logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context carrying the logger.
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext attaches a fresh trace ID to the context and returns
// a logger tagged with it.
func WithTraceContext(ctx context.Context) (context.Context, zerolog.Logger) {
	traceID := GenerateTraceID()
	l := Default().With().Str("trace_id", traceID).Logger()
	return NewContext(ctx, l), l
}

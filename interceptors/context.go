package interceptors

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerContextKey contextKey = "pipeline:interceptor:logger"

// WithLogger stores a message-scoped logger in ctx
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger returns the logger stored by LoggingInterceptor, or fallback when
// there is none
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

package logger

import "context"

type contextKey string

// CorrelationIDKey carries a correlation identifier through context so child
// loggers can stamp every entry produced for one ingestion or redelivery pass.
const CorrelationIDKey contextKey = "correlation_id"

// Logger is the structured logging contract used across the service.
// Log methods accept a message followed by alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that includes the given key-value pairs
	// in every subsequent entry.
	With(args ...any) Logger

	// WithContext returns a child logger annotated with the correlation id
	// stored in ctx, if any.
	WithContext(ctx context.Context) Logger
}

// ContextWithCorrelationID stores a correlation id for WithContext to pick up.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation id, if one was set.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(CorrelationIDKey).(string)
	return id, ok && id != ""
}

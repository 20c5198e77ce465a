package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for an HTTP request ID
	RequestIDKey ContextKey = "request_id"
	// EventIDKey is the context key for an inbound chat event ID
	EventIDKey ContextKey = "event_id"
)

// NewID generates a new random identifier
func NewID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithEventID adds an inbound event ID to the context
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, EventIDKey, eventID)
}

func value(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string { return value(ctx, TraceIDKey) }

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string { return value(ctx, RequestIDKey) }

// GetEventID retrieves the event ID from the context
func GetEventID(ctx context.Context) string { return value(ctx, EventIDKey) }

// LoggerFromContext adds the ids carried by ctx to logger
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	zctx := logger.With()
	if id := GetTraceID(ctx); id != "" {
		zctx = zctx.Str("trace_id", id)
	}
	if id := GetRequestID(ctx); id != "" {
		zctx = zctx.Str("request_id", id)
	}
	if id := GetEventID(ctx); id != "" {
		zctx = zctx.Str("event_id", id)
	}
	return zctx.Logger()
}

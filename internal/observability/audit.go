// Package observability records audit events for security-relevant actions.
package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event types.
const (
	TypeDelivery = "delivery"
	TypeSecurity = "security"
	TypeConfig   = "config"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"` // client IP or component
	Action    string         `json:"action"`          // e.g. "send_to_group", "forbidden_ip"
	Status    string         `json:"status"`          // "success", "failure", "rejected"
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditLogger writes one JSON line per event. A nil *AuditLogger discards events.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLogger writes events to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLogger appends events to the file at path.
func OpenAuditLogger(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	a := NewAuditLogger(file)
	a.file = file
	return a, nil
}

// Record emits an audit event and mirrors it onto the active span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("at", event.Timestamp).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordDelivery logs the outcome of a delivery API call.
func (a *AuditLogger) RecordDelivery(ctx context.Context, action, actor, status string, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     TypeDelivery,
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordSecurity logs a request rejected by an API gate.
func (a *AuditLogger) RecordSecurity(ctx context.Context, action, actor string, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     TypeSecurity,
		Actor:    actor,
		Action:   action,
		Status:   "rejected",
		Metadata: metadata,
	})
}

// RecordConfig logs an applied configuration change.
func (a *AuditLogger) RecordConfig(ctx context.Context, action string, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     TypeConfig,
		Actor:    "config_watcher",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

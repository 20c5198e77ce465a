package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/internal/tracing"
	"github.com/harun/docrelay/pkg/allowlist"
	"github.com/harun/docrelay/pkg/backend"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/selection"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultDocumentMimeType = "application/pdf"
	DefaultConnectKeyword   = "connect"
)

// Kind names a handler.
type Kind string

const (
	KindDocumentForward  Kind = "document_forward"
	KindConnectList      Kind = "connect_list"
	KindNumericSelection Kind = "numeric_selection"
	KindMessageRelay     Kind = "message_relay"
)

// Handler is one step of the chain. Handle reports whether the event was
// claimed; a non-nil error is logged and does not stop later events.
type Handler interface {
	Kind() Kind
	Handle(ctx context.Context, ev *Event) (bool, error)
}

// Backend is the subset of the Processing Service the handlers call.
type Backend interface {
	Candidates(ctx context.Context) ([]backend.Candidate, error)
	Ingest(ctx context.Context, req backend.IngestRequest) error
	Link(ctx context.Context, req backend.LinkRequest) (backend.LinkResult, error)
	RelayMessage(ctx context.Context, payload backend.MessagePayload) (*backend.MessageReply, error)
}

// ChatClient is the chat capability the handlers need.
type ChatClient interface {
	chat.Source
	chat.Sender
}

// Options configures a Dispatcher.
type Options struct {
	Filter   *allowlist.Filter
	Chat     ChatClient
	Backend  Backend
	Sessions selection.Store

	DocumentMimeType string
	ConnectKeyword   string
	RelayUnhandled   bool

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Result describes what happened to one event.
type Result struct {
	Filtered bool
	Handled  bool
	Kind     Kind
}

// Dispatcher gates events through the allowlist and runs the handler chain.
type Dispatcher struct {
	filter   *allowlist.Filter
	chat     ChatClient
	handlers []Handler
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the dispatcher with the standard handler chain.
func New(opts Options) (*Dispatcher, error) {
	if opts.Filter == nil {
		return nil, fmt.Errorf("allowlist filter is required")
	}
	if opts.Chat == nil {
		return nil, fmt.Errorf("chat client is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.DocumentMimeType == "" {
		opts.DocumentMimeType = DefaultDocumentMimeType
	}
	if opts.ConnectKeyword == "" {
		opts.ConnectKeyword = DefaultConnectKeyword
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger.With().Str("component", "dispatch").Logger()
	base := handlerBase{
		chat:     opts.Chat,
		backend:  opts.Backend,
		sessions: opts.Sessions,
		mime:     opts.DocumentMimeType,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}

	handlers := []Handler{
		&documentForward{handlerBase: base},
		&connectList{handlerBase: base, keyword: opts.ConnectKeyword},
		&numericSelection{handlerBase: base},
	}
	if opts.RelayUnhandled {
		handlers = append(handlers, &messageRelay{handlerBase: base})
	}

	return &Dispatcher{
		filter:   opts.Filter,
		chat:     opts.Chat,
		handlers: handlers,
		metrics:  opts.Metrics,
		logger:   logger,
	}, nil
}

// Handlers returns the chain in priority order.
func (d *Dispatcher) Handlers() []Handler {
	return d.handlers
}

// Dispatch handles one event. It never panics and never returns an error;
// failures are logged per handler.
func (d *Dispatcher) Dispatch(ctx context.Context, in chat.InboundEvent) Result {
	if d.filter.Check(in) == allowlist.Deny {
		d.metrics.RecordInbound("filtered")
		d.logger.Debug().
			Str("chat_id", in.ChatID).
			Bool("is_group", in.IsGroup).
			Msg("Event filtered by allowlist")
		return Result{Filtered: true}
	}

	eventID := in.MessageID
	if eventID == "" {
		eventID = tracing.NewID()
	}
	ctx = tracing.WithEventID(ctx, eventID)
	ctx, span := tracing.StartSpan(ctx, "docrelay/dispatch", "dispatch.event",
		attribute.String("chat_id", in.ChatID),
		attribute.Bool("is_group", in.IsGroup),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, d.logger).With().
		Str("source_id", in.SourceID).
		Str("chat_id", in.ChatID).
		Logger()
	ctx = logger.WithContext(ctx)

	ev := newEvent(in, d.chat)
	for _, h := range d.handlers {
		handled, err := d.run(ctx, h, ev)
		if err != nil {
			span.RecordError(err)
			logger.Error().Err(err).Str("handler", string(h.Kind())).Msg("Handler failed")
		}
		if handled {
			span.SetAttributes(attribute.String("handler", string(h.Kind())))
			d.metrics.RecordInbound("handled")
			return Result{Handled: true, Kind: h.Kind()}
		}
	}

	d.metrics.RecordInbound("unhandled")
	logger.Debug().Msg("No handler claimed event")
	return Result{}
}

// run invokes one handler, turning a panic into "not handled".
func (d *Dispatcher) run(ctx context.Context, h Handler, ev *Event) (handled bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "docrelay/dispatch", "dispatch.handler",
		attribute.String("handler", string(h.Kind())),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			handled = false
			err = &PanicError{Handler: h.Kind(), Value: r, Stack: string(debug.Stack())}
			d.metrics.RecordHandler(string(h.Kind()), "panic")
			span.SetStatus(codes.Error, "panic")
		}
	}()

	handled, err = h.Handle(ctx, ev)
	switch {
	case err != nil:
		d.metrics.RecordHandler(string(h.Kind()), "error")
		tracing.Fail(span, err, "")
	case handled:
		d.metrics.RecordHandler(string(h.Kind()), "handled")
	default:
		d.metrics.RecordHandler(string(h.Kind()), "skipped")
	}
	return handled, err
}

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Handler Kind
	Value   any
	Stack   string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.Value)
}

// IsPanic reports whether err came from a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

package daemon

import (
	"context"
	"time"

	"github.com/harun/docrelay/pkg/chat"
)

const statsInterval = 30 * time.Second

// EventLoop feeds inbound chat events into the per-source queue.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: statsInterval,
	}
}

// Run consumes events until ctx is done or the transport closes its stream.
func (e *EventLoop) Run(ctx context.Context) {
	logger := e.daemon.log
	logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	events := e.daemon.transport.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Event loop stopping")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info().Msg("Inbound stream closed")
				return
			}
			e.handle(ctx, ev)

		case <-ticker.C:
			e.logStats()
		}
	}
}

// handle drops redeliveries and queues the event on its source's lane.
// Events from one source are dispatched in arrival order.
func (e *EventLoop) handle(ctx context.Context, ev chat.InboundEvent) {
	d := e.daemon
	if ev.MessageID != "" && d.dedup.Seen(ev.MessageID) {
		d.metrics.RecordInbound("duplicate")
		d.log.Debug().Str("message_id", ev.MessageID).Msg("Duplicate event dropped")
		return
	}

	lane := ev.SourceID
	if lane == "" {
		lane = ev.ChatID
	}

	err := d.queue.Submit(ctx, lane, func(taskCtx context.Context) error {
		d.dispatcher.Dispatch(taskCtx, ev)
		return nil
	})
	if err != nil {
		d.metrics.RecordInbound("dropped")
		d.log.Warn().Err(err).Str("lane", lane).Msg("Failed to queue event")
	}
}

func (e *EventLoop) logStats() {
	stats := e.daemon.queue.GetStats()
	if stats["queued"] == 0 && stats["running"] == 0 {
		return
	}
	e.daemon.log.Debug().
		Int("lanes", stats["lanes"]).
		Int("queued", stats["queued"]).
		Int("running", stats["running"]).
		Msg("Queue stats")
}

// HandleShutdown gives queued and running events a bounded chance to finish.
func (e *EventLoop) HandleShutdown() {
	e.daemon.log.Info().Msg("Draining inbound queue")
	if e.daemon.queue.WaitForActive(drainTimeout) {
		e.daemon.log.Info().Msg("All active tasks completed")
	}
}

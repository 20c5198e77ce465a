// Package commandqueue runs inbound chat work in lanes.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order, one at a time.
// - Tasks in different lanes may execute concurrently, bounded by MaxWorkers.
// - Idle lanes are discarded; a lane exists only while it has work.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Options{MaxWorkers: 4})
//	defer queue.Close()
//	err := queue.Submit(ctx, event.SourceID, func(ctx context.Context) error {
//		return dispatcher.Handle(ctx, event)
//	})
package commandqueue

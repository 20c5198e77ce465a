package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxWorkers bounds concurrent tasks across all lanes.
const DefaultMaxWorkers = 4

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("commandqueue: closed")

// Task is one unit of lane work.
type Task func(ctx context.Context) error

// Options configures a Queue.
type Options struct {
	MaxWorkers int
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
}

// laneState holds the pending tasks of one lane
type laneState struct {
	name    string
	queue   []*taskRecord
	running bool
}

// Queue provides per-lane serialization with a global concurrency limit
type Queue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	queued    int
	active    int
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	sem       chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a Queue
func New(opts Options) *Queue {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:   make(map[string]*laneState),
		sem:     make(chan struct{}, opts.MaxWorkers),
		ctx:     ctx,
		cancel:  cancel,
		logger:  opts.Logger.With().Str("component", "commandqueue").Logger(),
		metrics: opts.Metrics,
	}
}

// Submit queues a task on lane. Failures are logged, not returned.
func (q *Queue) Submit(ctx context.Context, lane string, task Task) error {
	if ctx == nil {
		ctx = context.Background()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{name: lane}
		q.lanes[lane] = ls
	}

	q.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, q.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
	}
	ls.queue = append(ls.queue, record)
	q.queued++
	queueSize := len(ls.queue)
	q.metrics.SetQueued(q.queued)

	start := !ls.running
	if start {
		ls.running = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	q.logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	if start {
		go q.runLane(ls)
	}
	return nil
}

// runLane drains one lane, holding a worker slot per task.
func (q *Queue) runLane(ls *laneState) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(ls.queue) == 0 {
			ls.running = false
			delete(q.lanes, ls.name)
			q.mu.Unlock()
			return
		}
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		q.mu.Unlock()

		acquired := false
		select {
		case q.sem <- struct{}{}:
			acquired = true
		case <-q.ctx.Done():
		}

		q.mu.Lock()
		q.queued--
		q.active++
		q.metrics.SetQueued(q.queued)
		q.mu.Unlock()

		q.execute(ls.name, record)

		q.mu.Lock()
		q.active--
		q.mu.Unlock()

		if acquired {
			<-q.sem
		}
	}
}

func (q *Queue) execute(lane string, record *taskRecord) (err error) {
	if q.ctx.Err() != nil {
		return ErrClosed
	}

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"docrelay/commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, q.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		duration := time.Since(startTime)
		if err != nil {
			tracing.Fail(span, err, "")
			logger.Error().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("duration", duration).
				Err(err).
				Msg("Task failed")
			return
		}
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Dur("waited", startTime.Sub(record.enqueuedAt)).
			Msg("Task completed")
	}()

	return record.task(runCtx)
}

// GetStats returns queue statistics
func (q *Queue) GetStats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return map[string]int{
		"lanes":      len(q.lanes),
		"queued":     q.queued,
		"running":    q.active,
		"maxWorkers": cap(q.sem),
	}
}

// WaitForActive waits for all queued and running tasks to finish
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		drained := q.queued == 0 && q.active == 0
		q.mu.Unlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			q.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects new work, cancels running tasks and waits for lanes to exit.
// Tasks still queued are skipped and logged as failed with ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

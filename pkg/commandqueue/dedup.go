package commandqueue

import (
	"context"
	"sync"
	"time"
)

// Dedup remembers recently seen keys, so providers that redeliver an
// update after a reconnect do not trigger the same work twice.
type Dedup struct {
	entries map[string]time.Time
	ttl     time.Duration
	mu      sync.Mutex
	now     func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDedup creates a cache and starts its cleanup loop.
func NewDedup(ctx context.Context, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	d := &Dedup{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go d.cleanup(ctx)

	return d
}

// Stop ends the cleanup loop.
func (d *Dedup) Stop() {
	d.cancel()
	<-d.done
}

// Seen records key and reports whether it was already present and unexpired.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.entries[key]; ok && now.Sub(at) <= d.ttl {
		return true
	}
	d.entries[key] = now
	return false
}

func (d *Dedup) cleanup(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Dedup) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for key, at := range d.entries {
		if now.Sub(at) > d.ttl {
			delete(d.entries, key)
		}
	}
}

// Size returns the number of entries in the cache
func (d *Dedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-IP rate limiting with a sliding window
type RateLimiter struct {
	hits     map[string][]time.Time
	limit    int
	window   time.Duration
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows limit requests per IP per minute. A limit <= 0 disables it.
func NewRateLimiter(limit int) *RateLimiter {
	rl := &RateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Allow records a request and reports whether it is within the limit. When
// it is not, retryAfter is how long until the oldest hit leaves the window.
func (rl *RateLimiter) Allow(ip string) (ok bool, retryAfter time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := rl.prune(rl.hits[ip], now)
	if len(hits) >= rl.limit {
		rl.hits[ip] = hits
		return false, hits[0].Add(rl.window).Sub(now)
	}
	rl.hits[ip] = append(hits, now)
	return true, 0
}

func (rl *RateLimiter) prune(hits []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= rl.window {
		i++
	}
	return hits[i:]
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops IPs with no hits inside the window
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, hits := range rl.hits {
		if hits = rl.prune(hits, now); len(hits) == 0 {
			delete(rl.hits, ip)
		} else {
			rl.hits[ip] = hits
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter implements per-key sliding window rate limiting. The gateway
// keys it by client address, so one chatty integration cannot starve the
// ingestion path for everyone else.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing limit events per key within
// window. A non-positive limit means unlimited.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records one event for key. Returns nil if the event fits within
// the window, ErrRateLimited otherwise.
func (rl *RateLimiter) Allow(key string) error {
	if rl.limit <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	events := evict(rl.events[key], now.Add(-rl.window))

	if len(events) >= rl.limit {
		rl.events[key] = events
		return ErrRateLimited
	}

	rl.events[key] = append(events, now)
	return nil
}

// Prune drops keys whose events have all aged out of the window, bounding
// memory for long-running processes with churning clients.
func (rl *RateLimiter) Prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, events := range rl.events {
		if remaining := evict(events, cutoff); len(remaining) == 0 {
			delete(rl.events, key)
		} else {
			rl.events[key] = remaining
		}
	}
}

// evict removes events before cutoff. Events are chronologically ordered.
func evict(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	return events[i:]
}

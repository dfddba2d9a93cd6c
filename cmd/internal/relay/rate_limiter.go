package relay

import (
	"sync"
	"time"
)

// RateLimiter caps gateway events per connection to limit events within a
// sliding window.
//
// It keeps the timestamps of the last `limit` permitted events in a fixed
// ring: an event is allowed when the ring has a free slot or when the oldest
// recorded event has slid out of the window. Memory is O(limit) regardless
// of traffic.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	head   int
	filled int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		ring:   make([]time.Time, limit),
		window: window,
	}
}

// Allow reports whether an event at time "now" should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < len(r.ring) {
		r.ring[(r.head+r.filled)%len(r.ring)] = now
		r.filled++
		return true
	}

	oldest := r.ring[r.head]
	if now.Sub(oldest) < r.window {
		return false
	}

	r.ring[r.head] = now
	r.head = (r.head + 1) % len(r.ring)
	return true
}

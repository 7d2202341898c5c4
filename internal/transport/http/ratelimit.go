package http

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window per-caller counter. Counts reset
// together at each window boundary; good enough for abuse control on
// the credential endpoint.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counts  map[string]int
	resetAt time.Time
	now     func() time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

// allow counts one request for the caller key and reports whether it
// is within the limit. A non-positive limit disables limiting.
func (r *rateLimiter) allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.After(r.resetAt) {
		r.counts = make(map[string]int)
		r.resetAt = now.Add(r.window)
	}
	r.counts[key]++
	return r.counts[key] <= r.limit
}

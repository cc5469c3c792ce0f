package proxy

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a token-bucket limiter per key (typically a
// client IP or domain), creating one on first use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter family allowing rps requests per
// second per key, with burst headroom of burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request tagged with key may proceed.
func (r *RateLimiter) Allow(key string) bool {
	return r.limiterFor(key).Allow()
}

func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.limiters[key] = l
	}
	return l
}

// Package ratelimit provides per-key token-bucket rate limiting for the
// Market Engine's order creation and the Gold/Shop Engine's feature
// purchases.
//
// Grounded on the reference's services/rate_limit_service.go, which
// tracks a sliding window of request timestamps in a Redis sorted set
// per key; generalized here into an in-process golang.org/x/time/rate
// limiter per key, keyed the same way (the reference's RateLimit config
// block — limit/window pairs) but without the Redis round-trip, since a
// single process owns every engine in this service.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a registry of per-key token buckets sharing one
// (rate, burst) policy.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// New builds a Limiter allowing `limit` events per window, bursting up
// to `limit` at once.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 || window <= 0 {
		return &Limiter{buckets: make(map[string]*rate.Limiter), r: rate.Inf, burst: 1}
	}
	perSecond := rate.Limit(float64(limit) / window.Seconds())
	return &Limiter{buckets: make(map[string]*rate.Limiter), r: perSecond, burst: limit}
}

// Allow reports whether key may proceed now, consuming one token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.r, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

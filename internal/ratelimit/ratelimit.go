// Package ratelimit implements per-client request rate limiting with
// lazy-refill token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64, now time.Time) *Bucket {
	return &Bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume attempts to consume n tokens. Returns remaining and whether allowed.
func (b *Bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until n tokens are available.
func (b *Bucket) retryAfter(n float64) float64 {
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Limiter holds the request bucket for a single client.
type Limiter struct {
	mu       sync.Mutex
	rpm      *Bucket
	limit    int64
	lastUsed time.Time
}

// Allow consumes one request token.
func (l *Limiter) Allow(now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now

	if remaining, ok := l.rpm.tryConsume(1, now); ok {
		return Result{Allowed: true, Limit: l.limit, Remaining: remaining}
	}
	return Result{
		Limit:             l.limit,
		RetryAfterSeconds: l.rpm.retryAfter(1),
	}
}

// Registry manages per-client Limiters sharing one requests-per-minute limit.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	rpm      int64
	now      func() time.Time
}

// NewRegistry creates a registry allowing rpm requests per minute per client.
// An rpm of 0 disables limiting.
func NewRegistry(rpm int64) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		rpm:      rpm,
		now:      time.Now,
	}
}

// Allow checks and consumes one request for client.
func (r *Registry) Allow(client string) Result {
	if r.rpm <= 0 {
		return Result{Allowed: true}
	}
	now := r.now()
	return r.getOrCreate(client, now).Allow(now)
}

func (r *Registry) getOrCreate(client string, now time.Time) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[client]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[client]; ok {
		return l
	}
	l = &Limiter{rpm: newBucket(r.rpm, now), limit: r.rpm, lastUsed: now}
	r.limiters[client] = l
	return l
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}

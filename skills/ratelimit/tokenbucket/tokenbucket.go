// Package tokenbucket implements per-key token-bucket rate limiting.
//
// Use it to bound how fast each caller (user, API key, tenant, IP) may act
// while still absorbing short bursts: the bucket holds Burst tokens, each
// action spends one, and tokens refill at a steady Rate. One Registry
// serves all keys, creating a limiter lazily per key, so callers do not
// manage limiter lifecycles themselves.
//
// The part most copies get wrong is cleanup. A per-key map grows with
// every distinct key ever seen; the Registry timestamps each bucket and
// Sweep drops the ones idle past a deadline, which the owner runs on
// whatever cadence suits it. Skip this pattern for global (not per-key)
// limiting, where a single rate.Limiter is the whole answer.
//
// Skill metadata:
//
//	name: token-bucket
//	category: ratelimit
//	tags: rate, limiter, burst, per-key, quota
//	level: beginner
package tokenbucket

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes a Registry.
type Config struct {
	// Rate is the steady refill rate, tokens per second. rate.Every
	// converts an interval.
	Rate rate.Limit

	// Burst is the bucket capacity.
	Burst int

	// IdleAfter is how long an untouched bucket survives Sweep.
	IdleAfter time.Duration
}

// DefaultConfig allows 10 actions per second with bursts of 20 and sweeps
// buckets idle for 10 minutes.
func DefaultConfig() Config {
	return Config{
		Rate:      10,
		Burst:     20,
		IdleAfter: 10 * time.Minute,
	}
}

// Registry is a set of token buckets, one per key.
type Registry struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// New returns an empty Registry.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may act now, spending one token if so.
func (r *Registry) Allow(key string) bool {
	return r.get(key).Allow()
}

// Wait blocks until key may act or ctx ends. It is the form request
// handlers use when queueing briefly beats rejecting.
func (r *Registry) Wait(ctx context.Context, key string) error {
	return r.get(key).Wait(ctx)
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Sweep drops buckets idle longer than IdleAfter and returns how many it
// removed. A dropped key starts over with a full bucket on next use.
func (r *Registry) Sweep() int {
	deadline := r.now().Add(-r.cfg.IdleAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, b := range r.buckets {
		if b.lastSeen.Before(deadline) {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

func (r *Registry) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(r.cfg.Rate, r.cfg.Burst)}
		r.buckets[key] = b
	}
	b.lastSeen = r.now()
	return b.lim
}

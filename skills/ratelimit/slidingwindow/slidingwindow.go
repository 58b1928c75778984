// Package slidingwindow implements a sliding-window counter rate limiter.
//
// Use it for velocity rules stated the way product and risk teams state
// them, "at most N actions per key per window": login attempts per
// account, payouts per card, messages per room. Unlike a token bucket,
// which admits a refill-sized trickle forever, a window limit is a hard
// ceiling over any window-length span.
//
// A precise sliding log costs memory per action; a fixed window lets 2N
// actions through when traffic straddles a boundary. This limiter keeps
// two counters per key (the current and previous fixed window) and weights
// the previous one by how much of it still overlaps the sliding span. The
// estimate errs only when traffic inside the previous window was very
// uneven, which is the accepted trade for O(1) memory per key.
//
// Skill metadata:
//
//	name: sliding-window
//	category: ratelimit
//	tags: rate, window, velocity, counter, fraud
//	level: intermediate
package slidingwindow

import (
	"sync"
	"time"
)

// Limiter enforces a per-key ceiling of Limit actions per Window.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	keys map[string]*counter
}

type counter struct {
	start    time.Time // start of the current fixed window
	current  int
	previous int
}

// New returns a Limiter allowing limit actions per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		keys:   make(map[string]*counter),
	}
}

// Allow records an action for key if the weighted count over the sliding
// window stays under the limit, and reports whether it was admitted.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.advance(key)
	if l.estimate(c) >= float64(l.limit) {
		return false
	}
	c.current++
	return true
}

// Remaining estimates how many more actions key may take right now.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rem := float64(l.limit) - l.estimate(l.advance(key))
	if rem < 0 {
		return 0
	}
	return int(rem)
}

// Sweep drops keys whose counters no longer overlap the sliding window
// and returns how many it removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, c := range l.keys {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// advance rolls key's counters forward to the fixed window containing now.
// Callers hold l.mu.
func (l *Limiter) advance(key string) *counter {
	now := l.now()
	c, ok := l.keys[key]
	if !ok {
		c = &counter{start: now}
		l.keys[key] = c
		return c
	}

	elapsed := now.Sub(c.start)
	switch {
	case elapsed < l.window:
		// still in the current window
	case elapsed < 2*l.window:
		c.previous = c.current
		c.current = 0
		c.start = c.start.Add(l.window)
	default:
		c.previous = 0
		c.current = 0
		c.start = now
	}
	return c
}

// estimate weights the previous window by its remaining overlap with the
// sliding span ending now. Callers hold l.mu.
func (l *Limiter) estimate(c *counter) float64 {
	into := l.now().Sub(c.start)
	if into < 0 {
		into = 0
	}
	overlap := 1 - float64(into)/float64(l.window)
	if overlap < 0 {
		overlap = 0
	}
	return float64(c.current) + float64(c.previous)*overlap
}

// Package circuitbreaker implements a three-state circuit breaker for
// calls to an unreliable dependency.
//
// Use it in front of anything that can brown out: a payment provider, a
// search cluster, a partner API. While the dependency fails, the breaker
// opens and callers fail fast instead of stacking timeouts; after a
// cooling period it half-opens and lets a few probes through; enough probe
// successes close it again.
//
// The breaker opens on either of two signals: a run of consecutive
// failures (a hard outage) or the failure rate over a rolling window
// crossing a threshold once enough samples exist (a partial brownout that
// consecutive counting misses because occasional successes reset it).
// Callers must treat ErrOpen as "do not retry here": surface it, shed the
// load, or take a fallback. Wrapping retries directly around a breaker
// defeats both.
//
// Skill metadata:
//
//	name: circuit-breaker
//	category: resilience
//	tags: breaker, failure, fallback, brownout, fail-fast
//	level: advanced
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// Closed passes calls through and watches results.
	Closed State = iota
	// Open rejects calls until the cooling period ends.
	Open
	// HalfOpen admits a limited number of probe calls.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuitbreaker: open")

	// ErrProbeLimit is returned in half-open once the probe quota is
	// taken.
	ErrProbeLimit = errors.New("circuitbreaker: half-open probe limit reached")
)

// Config tunes a Breaker.
type Config struct {
	// ConsecutiveFailures opens the breaker outright.
	ConsecutiveFailures int

	// FailureRate opens the breaker when exceeded within the window,
	// once MinSamples calls were observed.
	FailureRate float64

	// MinSamples is the observation floor for the rate signal.
	MinSamples int

	// Window is the rolling span the rate is judged over.
	Window time.Duration

	// OpenFor is the cooling period before probing resumes.
	OpenFor time.Duration

	// HalfOpenProbes is how many probe calls half-open admits.
	HalfOpenProbes int

	// SuccessesToClose is how many probe successes close the breaker.
	SuccessesToClose int
}

// DefaultConfig opens after 5 consecutive failures or a failure rate over
// 50% in a 60-second window, cools for 30 seconds, then admits 3 probes
// and closes after 2 successes.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		FailureRate:         0.5,
		MinSamples:          10,
		Window:              time.Minute,
		OpenFor:             30 * time.Second,
		HalfOpenProbes:      3,
		SuccessesToClose:    2,
	}
}

// Breaker guards calls to one dependency.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	state       State
	consecutive int
	windowStart time.Time
	successes   int
	failures    int
	openedAt    time.Time
	probes      int
	probeWins   int
}

// New returns a closed Breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs op through the breaker. It returns ErrOpen or ErrProbeLimit
// without calling op when the breaker rejects, otherwise op's own error.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op(ctx)
	b.after(err == nil)
	return err
}

// State returns the current position, advancing open to half-open when
// the cooling period has lapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case Open:
		return ErrOpen
	case HalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrProbeLimit
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		if !success {
			// One bad probe and the dependency is still down.
			b.trip()
			return
		}
		b.probeWins++
		if b.probeWins >= b.cfg.SuccessesToClose {
			b.reset()
		}
	case Closed:
		b.roll()
		if success {
			b.consecutive = 0
			b.successes++
			return
		}
		b.consecutive++
		b.failures++
		if b.consecutive >= b.cfg.ConsecutiveFailures || b.rateExceeded() {
			b.trip()
		}
	}
}

// maybeHalfOpen moves open to half-open once OpenFor has passed. Callers
// hold b.mu.
func (b *Breaker) maybeHalfOpen() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenFor {
		b.state = HalfOpen
		b.probes = 0
		b.probeWins = 0
	}
}

// roll restarts the rate window when it has lapsed. Callers hold b.mu.
func (b *Breaker) roll() {
	now := b.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.cfg.Window {
		b.windowStart = now
		b.successes = 0
		b.failures = 0
	}
}

// rateExceeded reports whether the windowed failure rate crosses the
// threshold. Callers hold b.mu.
func (b *Breaker) rateExceeded() bool {
	total := b.successes + b.failures
	if total < b.cfg.MinSamples {
		return false
	}
	return float64(b.failures)/float64(total) > b.cfg.FailureRate
}

// trip opens the breaker now. Callers hold b.mu.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.consecutive = 0
}

// reset closes the breaker with clean counters. Callers hold b.mu.
func (b *Breaker) reset() {
	b.state = Closed
	b.consecutive = 0
	b.successes = 0
	b.failures = 0
	b.windowStart = time.Time{}
	b.probes = 0
	b.probeWins = 0
}

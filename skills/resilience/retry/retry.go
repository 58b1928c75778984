// Package retry implements bounded retries with exponential backoff and
// full jitter.
//
// Use it around operations that fail transiently: a connection refused
// during a deploy, a 503 from a dependency shedding load, a lock held for
// a moment. The delay doubles per attempt up to a cap, and full jitter
// draws each actual sleep uniformly from [0, delay) so a thundering herd
// of clients retries out of phase instead of in lockstep.
//
// Two rules keep retries from making an incident worse. First, retry only
// errors that can heal: wrap validation failures, permission denials, and
// other deterministic outcomes with Permanent so the loop stops at once.
// Second, always bound the loop with attempts and a context; an unbounded
// retry is an outage amplifier. Do not stack this inside another layer
// that already retries the same call.
//
// Skill metadata:
//
//	name: retry-backoff
//	category: resilience
//	tags: retry, backoff, jitter, transient, context
//	level: beginner
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy shapes the retry loop.
type Policy struct {
	// Attempts is the total number of tries, first call included.
	Attempts int

	// InitialDelay is the backoff before the second try.
	InitialDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// Jitter draws each sleep uniformly from [0, delay).
	Jitter bool

	// Notify, when set, observes each failure before the next wait.
	Notify func(err error, attempt int, delay time.Duration)
}

// DefaultPolicy tries 5 times over roughly a second and a half.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do stops immediately and
// returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, the policy is exhausted, op returns a
// Permanent error, or ctx ends. The returned error is the last one op
// produced, annotated with the attempt count when the policy ran out.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry: policy allows %d attempts", p.Attempts)
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == p.Attempts {
			return fmt.Errorf("retry: %d attempts: %w", attempt, lastErr)
		}

		sleep := delay
		if p.Jitter && sleep > 0 {
			sleep = time.Duration(rand.Int63n(int64(sleep)))
		}
		if p.Notify != nil {
			p.Notify(lastErr, attempt, sleep)
		}
		if err := wait(ctx, sleep); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}

// wait sleeps for d or until ctx ends.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package testmain shows how a package gates itself against goroutine
// leaks, and what a background component must promise for that gate to
// hold.
//
// A leaked goroutine fails no assertion. It sits in every later test's
// address space, pins its captures, and in production turns into a slow
// memory climb nobody can bisect. goleak.VerifyTestMain in TestMain
// snapshots goroutines after the whole package has run and fails the
// binary if any survive; goleak.VerifyNone scopes the same check to one
// test when a single component is under suspicion. Goroutines owned by
// a third-party library that cannot be stopped are excluded by name
// with IgnoreTopFunction rather than by loosening the gate.
//
// The checks only pass if components keep a strict stop contract, which
// Reporter demonstrates: Stop signals the worker, then waits for it to
// exit before returning. A Stop that only signals leaves a window where
// the goroutine outlives the test, and goleak exists to catch exactly
// that window.
//
// Skill metadata:
//
//	name: test-main
//	category: testing
//	tags: goleak, testmain, goroutines, lifecycle, leaks
//	level: intermediate
package testmain

import (
	"sync"
	"time"
)

const eventBuffer = 256

// Reporter batches reported events and hands them to a sink on an
// interval, from a single background goroutine.
type Reporter struct {
	events   chan string
	interval time.Duration
	sink     func(batch []string)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReporter starts the background worker. Callers own the lifecycle:
// every NewReporter must be paired with Stop.
func NewReporter(interval time.Duration, sink func(batch []string)) *Reporter {
	r := &Reporter{
		events:   make(chan string, eventBuffer),
		interval: interval,
		sink:     sink,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Report enqueues an event without blocking. It reports false when the
// buffer is full or the reporter is stopped.
func (r *Reporter) Report(event string) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.events <- event:
		return true
	case <-r.stop:
		return false
	default:
		return false
	}
}

// Stop flushes buffered events and returns only after the worker has
// exited. Safe to call more than once.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}

func (r *Reporter) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var batch []string
	flush := func() {
		if len(batch) > 0 {
			r.sink(batch)
			batch = nil
		}
	}

	for {
		select {
		case e := <-r.events:
			batch = append(batch, e)
		case <-ticker.C:
			flush()
		case <-r.stop:
			// Drain accepted events so none are silently lost.
			for {
				select {
				case e := <-r.events:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

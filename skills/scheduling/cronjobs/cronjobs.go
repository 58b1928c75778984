// Package cronjobs implements a cron-expression job runner.
//
// Each job pairs a cron spec with a function; the scheduler keeps one
// timer armed for the earliest next occurrence across all jobs, fires
// the due jobs, and re-arms. Specs take standard five-field cron plus an
// optional leading seconds field for sub-minute schedules.
//
// The decision every cron runner must make explicit is overlap: the
// 02:00 run is still going when 03:00 arrives. SkipIfRunning, the
// default, counts a skip and lets the running instance finish, which is
// right for idempotent batch work where a second copy only adds load.
// AllowOverlap starts a second instance and is only safe when runs do
// not share state. Skips, runs and errors are counted per job, so a job
// that never gets to run because its previous run never ends is visible
// in Stats instead of silently absent from the logs.
//
// Skill metadata:
//
//	name: cron-jobs
//	category: scheduling
//	tags: cron, scheduler, jobs, overlap, timer
//	level: intermediate
package cronjobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aptible/supercronic/cronexpr"
)

// OverlapPolicy says what a due fire does when the previous run of the
// same job is still in flight.
type OverlapPolicy int

const (
	// SkipIfRunning drops the fire and counts a skip.
	SkipIfRunning OverlapPolicy = iota

	// AllowOverlap starts another instance.
	AllowOverlap
)

// Job is one scheduled function.
type Job struct {
	// Name identifies the job in Stats. Required, unique.
	Name string

	// Spec is the cron expression, five fields or six with seconds.
	Spec string

	// Run does the work. It receives the scheduler's context.
	Run func(ctx context.Context) error

	// Overlap picks the policy for late-running jobs.
	Overlap OverlapPolicy
}

// Stats is the observable state of one job.
type Stats struct {
	// Runs counts started instances.
	Runs int64
	// Skips counts fires dropped by SkipIfRunning.
	Skips int64
	// Errors counts runs that returned an error.
	Errors int64
	// Next is the upcoming fire time, zero if the spec has none.
	Next time.Time
	// LastErr is the most recent run error.
	LastErr error
}

type job struct {
	name    string
	expr    *cronexpr.Expression
	run     func(ctx context.Context) error
	overlap OverlapPolicy

	next    time.Time
	running atomic.Bool
	runs    atomic.Int64
	skips   atomic.Int64
	errs    atomic.Int64

	errMu   sync.Mutex
	lastErr error
}

// Scheduler runs jobs on their cron schedules.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*job
	wg   sync.WaitGroup

	now func() time.Time
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{now: time.Now}
}

// Add registers a job. The spec is parsed up front so a typo fails at
// startup, not at 2 a.m.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" {
		return errors.New("cronjobs: job has no name")
	}
	if j.Run == nil {
		return fmt.Errorf("cronjobs: job %q has no Run", j.Name)
	}
	expr, err := cronexpr.Parse(j.Spec)
	if err != nil {
		return fmt.Errorf("cronjobs: job %q spec %q: %w", j.Name, j.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.name == j.Name {
			return fmt.Errorf("cronjobs: duplicate job %q", j.Name)
		}
	}
	s.jobs = append(s.jobs, &job{
		name:    j.Name,
		expr:    expr,
		run:     j.Run,
		overlap: j.Overlap,
		next:    expr.Next(s.now()),
	})
	return nil
}

// Stats reports a job by name.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name != name {
			continue
		}
		j.errMu.Lock()
		lastErr := j.lastErr
		j.errMu.Unlock()
		return Stats{
			Runs:    j.runs.Load(),
			Skips:   j.skips.Load(),
			Errors:  j.errs.Load(),
			Next:    j.next,
			LastErr: lastErr,
		}, true
	}
	return Stats{}, false
}

// Run fires jobs on schedule until ctx is canceled, then waits for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.earliest()
		if !ok {
			// Nothing will ever fire; park until canceled.
			<-ctx.Done()
			s.wg.Wait()
			return nil
		}
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-timer.C:
			s.runDue(ctx, s.now())
		}
	}
}

// earliest returns the soonest next fire time across jobs.
func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best time.Time
	for _, j := range s.jobs {
		if j.next.IsZero() {
			continue
		}
		if best.IsZero() || j.next.Before(best) {
			best = j.next
		}
	}
	return best, !best.IsZero()
}

// runDue starts every job due at or before t and advances its schedule.
func (s *Scheduler) runDue(ctx context.Context, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.next.IsZero() || j.next.After(t) {
			continue
		}
		j.next = j.expr.Next(t)
		s.launch(ctx, j)
	}
}

func (s *Scheduler) launch(ctx context.Context, j *job) {
	if j.overlap == SkipIfRunning && !j.running.CompareAndSwap(false, true) {
		j.skips.Add(1)
		return
	}
	j.runs.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if j.overlap == SkipIfRunning {
			defer j.running.Store(false)
		}
		if err := j.run(ctx); err != nil {
			j.errs.Add(1)
			j.errMu.Lock()
			j.lastErr = err
			j.errMu.Unlock()
		}
	}()
}

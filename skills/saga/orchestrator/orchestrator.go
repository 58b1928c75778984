// Package orchestrator implements a saga: a multi-step workflow that
// undoes its completed steps when a later step fails.
//
// Use it for operations that span systems which cannot share a
// transaction: reserve inventory, charge the card, create the shipment.
// Each step pairs its action with a compensation that semantically
// reverses it (release, refund, cancel). On failure the orchestrator runs
// the compensations of every completed step in reverse order, turning a
// half-done workflow back into a no-op.
//
// Compensations are best effort: one failing to run must not
// stop the others, so all compensation errors are collected and reported
// together with the step failure that triggered them. Compensations must
// therefore be idempotent and safe against partial state, which is where
// most of the real design work in a saga lives. Steps run under the
// caller's context; cancellation between steps triggers the same unwind
// as a failure.
//
// Skill metadata:
//
//	name: saga-orchestrator
//	category: saga
//	tags: saga, compensation, workflow, distributed, unwind
//	level: advanced
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Step is one unit of a saga.
type Step struct {
	// Name identifies the step in results and errors.
	Name string

	// Run performs the step.
	Run func(ctx context.Context) error

	// Compensate reverses a completed Run. Nil means the step needs no
	// undo (reads, idempotent notifications).
	Compensate func(ctx context.Context) error
}

// Saga is an ordered list of steps with compensation.
type Saga struct {
	name  string
	steps []Step
}

// Result reports what one execution did.
type Result struct {
	// ID identifies the execution, for correlation in logs and stores.
	ID uuid.UUID

	// Completed lists steps whose Run succeeded, in execution order.
	Completed []string

	// FailedStep names the step whose Run failed, empty on success.
	FailedStep string

	// Compensated lists steps whose Compensate ran, in unwind order.
	Compensated []string
}

// New validates and builds a saga.
func New(name string, steps ...Step) (*Saga, error) {
	if name == "" {
		return nil, fmt.Errorf("orchestrator: empty saga name")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("orchestrator: saga %q has no steps", name)
	}
	seen := make(map[string]bool, len(steps))
	for i, st := range steps {
		if st.Name == "" {
			return nil, fmt.Errorf("orchestrator: step %d of %q has no name", i, name)
		}
		if st.Run == nil {
			return nil, fmt.Errorf("orchestrator: step %q has no Run", st.Name)
		}
		if seen[st.Name] {
			return nil, fmt.Errorf("orchestrator: duplicate step name %q", st.Name)
		}
		seen[st.Name] = true
	}
	return &Saga{name: name, steps: steps}, nil
}

// Name returns the saga's name.
func (s *Saga) Name() string { return s.name }

// Execute runs the steps in order. On a step failure or context
// cancellation it compensates completed steps in reverse and returns the
// triggering error joined with any compensation errors. The Result is
// always populated.
func (s *Saga) Execute(ctx context.Context) (*Result, error) {
	res := &Result{ID: uuid.New()}

	var done []Step
	for _, st := range s.steps {
		if err := ctx.Err(); err != nil {
			return res, s.unwind(ctx, res, done,
				fmt.Errorf("orchestrator: saga %q interrupted: %w", s.name, err))
		}
		if err := st.Run(ctx); err != nil {
			res.FailedStep = st.Name
			return res, s.unwind(ctx, res, done,
				fmt.Errorf("orchestrator: saga %q step %q: %w", s.name, st.Name, err))
		}
		done = append(done, st)
		res.Completed = append(res.Completed, st.Name)
	}
	return res, nil
}

// unwind compensates done steps in reverse, joining compensation errors
// onto cause.
func (s *Saga) unwind(ctx context.Context, res *Result, done []Step, cause error) error {
	errs := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.Compensate == nil {
			continue
		}
		// Compensation must get a chance even when the trigger was the
		// caller's cancellation, so it runs detached from the dead
		// context's deadline but keeps its values.
		if err := st.Compensate(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("compensate %q: %w", st.Name, err))
			continue
		}
		res.Compensated = append(res.Compensated, st.Name)
	}
	return errors.Join(errs...)
}

// Package workerpool implements bounded parallel execution over a slice
// of work items.
//
// All three entry points share one rule: at most workers goroutines run
// at a time, so a million items never means a million goroutines. They
// differ in what an error does, and picking the right mode is the real
// decision when parallelizing work.
//
// ForEach and Map are fail-fast, built on errgroup: the first error
// cancels the shared context, in-flight items can notice and bail, and
// nothing new is scheduled. That fits pipelines where partial output is
// useless. TryEach is collect-all, built on a weighted semaphore: every
// item runs no matter how many fail, and the joined error reports all
// failures at once. That fits independent work, sending notifications,
// deleting files, where one bad item must not starve the rest.
//
// Map additionally preserves order: results line up with inputs by
// index, whatever order the workers finish in.
//
// Skill metadata:
//
//	name: worker-pool
//	category: scheduling
//	tags: concurrency, errgroup, semaphore, fan-out, bounded
//	level: intermediate
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ForEach runs fn on every item with bounded parallelism, stopping at
// the first error. The context given to fn is canceled once any item
// fails. workers below 1 means 1.
func ForEach[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range items {
		item := item
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// The slot may have been freed by the failing goroutine;
			// don't start new work after the group is already dead.
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, item)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// TryEach runs fn on every item with bounded parallelism, continuing
// past failures. The returned error joins every item error; use
// errors.Is to probe it. Cancellation stops scheduling new items but
// finished failures are still reported.
func TryEach[T any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) error) error {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, item := range items {
		item := item
		if err := sem.Acquire(ctx, 1); err != nil {
			errs = append(errs, err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Map runs fn on every item with bounded parallelism and returns the
// results in input order. Fail-fast like ForEach; on error the partial
// results are discarded.
func Map[IN, OUT any](ctx context.Context, workers int, items []IN, fn func(ctx context.Context, item IN) (OUT, error)) ([]OUT, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]OUT, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := fn(gctx, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

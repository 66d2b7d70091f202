// Package execution implements the Order Executor and the bounded
// worker pool all broker I/O runs on (SPEC_FULL §4.7, §5). RunAll
// blocks its caller, so an engine cycle waits while its broker calls
// are in flight.
package execution

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds how many broker calls may be in flight at once
// across every strategy instance sharing the process. The bound is a
// shared semaphore so RunAll and Spawn calls from many instances all
// draw from the same budget, not one budget per call.
type WorkerPool struct {
	sem chan struct{}
}

// NewWorkerPool creates a pool capped at concurrency simultaneous tasks.
func NewWorkerPool(concurrency int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkerPool{sem: make(chan struct{}, concurrency)}
}

func (wp *WorkerPool) acquire(ctx context.Context) error {
	select {
	case wp.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wp *WorkerPool) release() { <-wp.sem }

// RunAll dispatches tasks concurrently, bounded by the pool's shared
// limit, and blocks until all complete or one returns an error
// (errgroup's fail-fast semantics). Used for the engine loop's
// per-cycle fan-out — e.g. fetching the index tick and the option tick
// in parallel — where the loop genuinely needs both results before
// continuing.
func (wp *WorkerPool) RunAll(ctx context.Context, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if err := wp.acquire(gctx); err != nil {
				return err
			}
			defer wp.release()
			return t(gctx)
		})
	}
	return g.Wait()
}

// Spawn runs task on a pool-bounded goroutine without blocking the
// caller, for work that must outlive the current engine cycle. The
// engine loop does not call it; a timed-out SELL is not polled on it.
// onErr is called at most once, only
// if task returns a non-nil error.
func (wp *WorkerPool) Spawn(ctx context.Context, task func(context.Context) error, onErr func(error)) {
	go func() {
		if err := wp.acquire(ctx); err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		defer wp.release()
		if err := task(ctx); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Package executor provides the bounded-concurrency task runner used by
// every parallel phase of Backup, Restore, and Repair: up to N tasks run
// concurrently, a single cancellation propagates to all in-flight work,
// and the executor joins all workers before returning.
package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MinTasks and MaxTasks bound the configured parallelism: N is clamped
// to [1, 10].
const (
	MinTasks = 1
	MaxTasks = 10
)

// Clamp restricts n to [MinTasks, MaxTasks].
func Clamp(n int) int {
	if n < MinTasks {
		return MinTasks
	}
	if n > MaxTasks {
		return MaxTasks
	}
	return n
}

// Task is one unit of work submitted to a Pool. It must observe
// ctx.Done() at its own suspension points; the Pool does not forcibly
// interrupt a running Task.
type Task func(ctx context.Context) error

// Pool runs Tasks with bounded concurrency and cancellation propagation.
type Pool struct {
	sem *semaphore.Weighted
	g   *errgroup.Group
	ctx context.Context
}

// NewPool creates a Pool bound to parallel (already clamped by the
// caller via Clamp) concurrent tasks, deriving a cancellable context from
// parent so a single cancellation (parent cancel, or any Task's error if
// the caller chooses to propagate it) stops scheduling new work.
func NewPool(parent context.Context, parallel int) (*Pool, context.Context) {
	g, ctx := errgroup.WithContext(parent)
	return &Pool{
		sem: semaphore.NewWeighted(int64(parallel)),
		g:   g,
		ctx: ctx,
	}, ctx
}

// Submit schedules t to run once a slot is available and returns without
// waiting. The task's goroutine waits (observing cancellation) until
// either a slot frees up or the pool's context is done; t is never run
// after cancellation.
func (p *Pool) Submit(t Task) {
	p.g.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			// Context already cancelled; don't count this as a task
			// failure distinct from the cancellation itself.
			return nil
		}
		defer p.sem.Release(1)

		select {
		case <-p.ctx.Done():
			return nil
		default:
		}

		return t(p.ctx)
	})
}

// Wait joins every submitted Task and returns the first non-nil error, if
// any Task propagated one. Tasks that want "best effort, counters only"
// semantics (as every engine phase in this module does) should swallow
// their own errors into counters and never return a non-nil error here —
// Wait is reserved for the rare case a phase wants a hard abort.
func (p *Pool) Wait() error {
	return p.g.Wait()
}

// Package barrier provides the fan-out/fan-in completion primitive used by
// the entity engine to coordinate concurrent source sub-operations into a
// single outcome.
//
// A Barrier is created per orchestration episode. Sub-operations are
// spawned as goroutines against a context derived from the caller's; Wait
// blocks until every spawned operation has finished and returns the
// episode's single outcome. The first failure wins: it latches the error,
// cancels the shared context so in-flight siblings can stop early, and
// later failures are discarded. A barrier with zero spawned operations
// completes immediately — there is no synthetic placeholder operation.
package barrier

import (
	"context"
	"fmt"
	"sync"
)

// Barrier coordinates N concurrent sub-operations into one outcome.
type Barrier struct {
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu     sync.Mutex
	failed bool
	err    error

	waitOnce sync.Once
	onDone   func(error)
}

// New creates a barrier whose sub-operations run under a context derived
// from ctx.
func New(ctx context.Context) *Barrier {
	inner, cancel := context.WithCancel(ctx)
	return &Barrier{ctx: inner, cancel: cancel}
}

// OnDone registers a completion hook invoked exactly once, from Wait, with
// the episode's outcome. Must be called before Wait.
func (b *Barrier) OnDone(fn func(error)) { b.onDone = fn }

// Spawn runs one named sub-operation in its own goroutine. Valid until
// Wait returns.
func (b *Barrier) Spawn(name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fn(b.ctx); err != nil {
			b.fail(name, err)
		}
	}()
}

// fail latches the first error and cancels outstanding siblings. Later
// calls are no-ops, so at most one error is ever surfaced.
func (b *Barrier) fail(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed {
		return
	}
	b.failed = true
	b.err = fmt.Errorf("%s: %w", name, err)
	b.cancel()
}

// Err returns the latched error, if any. Stable once Wait has returned.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Wait blocks until every spawned sub-operation has finished, then returns
// the episode outcome exactly once (nil when all succeeded, the first
// latched error otherwise). With zero spawned operations it returns
// immediately.
func (b *Barrier) Wait() error {
	b.wg.Wait()
	err := b.Err()
	b.waitOnce.Do(func() {
		b.cancel()
		if b.onDone != nil {
			b.onDone(err)
		}
	})
	return err
}

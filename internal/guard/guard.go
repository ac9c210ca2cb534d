// Package guard provides the mutual-exclusion primitive that serializes every
// lifecycle transition and hosts context-aware condition waits.
package guard

import (
	"context"
	"sync"
	"time"
)

// Guard wraps a mutex and a broadcast channel. Code runs while holding the
// lock through Run, Get or GetChecked; waiters block in Await until a
// condition evaluated under the lock becomes true.
//
// The lock is not reentrant: a function passed to Run must not call back into
// the same Guard.
type Guard struct {
	mu      sync.Mutex
	changed chan struct{}
}

// New creates a Guard.
func New() *Guard {
	return &Guard{changed: make(chan struct{})}
}

// Run executes fn while holding the lock.
func (g *Guard) Run(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// Get executes fn while holding the lock and returns its value.
func Get[T any](g *Guard, fn func() T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// GetChecked executes fn while holding the lock and propagates its error.
func GetChecked[T any](g *Guard, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Broadcast wakes every goroutine blocked in Await. It must be called while
// holding the lock, i.e. from inside Run, Get or GetChecked.
func (g *Guard) Broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}

// Await blocks until cond returns true or ctx is done. cond is evaluated
// while holding the lock, after every Broadcast.
func (g *Guard) Await(ctx context.Context, cond func() bool) error {
	for {
		g.mu.Lock()
		if cond() {
			g.mu.Unlock()
			return nil
		}
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AwaitTimeout is Await bounded by a relative timeout. A non-positive timeout
// waits without a deadline.
func (g *Guard) AwaitTimeout(ctx context.Context, timeout time.Duration, cond func() bool) error {
	if timeout <= 0 {
		return g.Await(ctx, cond)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return g.Await(ctx, cond)
}

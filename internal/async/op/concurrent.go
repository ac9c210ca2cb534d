package op

import (
	"context"
	"log/slog"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/pkg/schema"
)

// ConcurrentExecution starts all children at once and completes when a
// threshold of them completed successfully, or when every child finished.
// Individual child failures and cancellations are swallowed. Once the
// composite completes, children still running are cancelled.
//
// The result holds the values of the successful children in completion order.
type ConcurrentExecution[T any] struct {
	*async.Machine[[]T]
	children  []async.Startable[T]
	threshold int

	g           *guard.Guard
	finishes    int
	completions int
	results     []T
	settled     bool
}

// Concurrent creates a composite that completes once all children finished.
func Concurrent[T any](children []async.Startable[T], opts ...Option) *ConcurrentExecution[T] {
	return newConcurrent(len(children), children, opts)
}

// ConcurrentN creates a composite that completes once threshold children
// completed successfully. The threshold must satisfy 0 < threshold < len(children).
func ConcurrentN[T any](threshold int, children []async.Startable[T], opts ...Option) (*ConcurrentExecution[T], error) {
	if threshold <= 0 || threshold >= len(children) {
		return nil, schema.NewErrorf(schema.ErrCodePrecondition,
			"threshold %d out of range for %d children", threshold, len(children)).
			WithDetails(map[string]any{"threshold": threshold, "children": len(children)})
	}
	return newConcurrent(threshold, children, opts), nil
}

func newConcurrent[T any](threshold int, children []async.Startable[T], opts []Option) *ConcurrentExecution[T] {
	c := newConfig(opts)
	e := &ConcurrentExecution[T]{
		children:  children,
		threshold: threshold,
		g:         guard.New(),
		results:   make([]T, 0, threshold),
	}
	e.Machine = async.NewMachine[[]T](e, c.exec...)
	return e
}

// Start starts every child. Children are skipped once the composite settled,
// which happens when earlier children complete synchronously.
func (e *ConcurrentExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return async.AlreadyStarted(e.ID(), e.State())
	}
	for _, child := range e.children {
		child.WhenFinished(func(_ context.Context, r async.Result[T]) { e.onChild(r) })
	}
	e.NotifyStarted()

	if len(e.children) == 0 {
		e.g.Run(func() { e.settled = true })
		e.NotifyCompleted([]T{})
		return nil
	}

	for i, child := range e.children {
		if guard.Get(e.g, func() bool { return e.settled }) {
			break
		}
		if err := child.Start(); err != nil {
			e.Logger().Warn("concurrent child did not start",
				slog.Int("index", i),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Completions returns how many children completed successfully so far.
func (e *ConcurrentExecution[T]) Completions() int {
	return guard.Get(e.g, func() int { return e.completions })
}

// Finishes returns how many children reached any terminal state so far.
func (e *ConcurrentExecution[T]) Finishes() int {
	return guard.Get(e.g, func() int { return e.finishes })
}

func (e *ConcurrentExecution[T]) onChild(r async.Result[T]) {
	var results []T
	complete := guard.Get(e.g, func() bool {
		if e.settled {
			return false
		}
		e.finishes++
		if r.IsCompleted() {
			e.completions++
			e.results = append(e.results, r.Value)
		}
		if e.completions < e.threshold && e.finishes < len(e.children) {
			return false
		}
		e.settled = true
		results = append([]T(nil), e.results...)
		return true
	})
	if !complete {
		return
	}
	e.cancelChildren(true)
	e.NotifyCompleted(results)
}

func (e *ConcurrentExecution[T]) cancelChildren(mayInterrupt bool) {
	for _, child := range e.children {
		child.Cancel(mayInterrupt)
	}
}

// CancelWork cancels every child and finishes the composite as cancelled.
func (e *ConcurrentExecution[T]) CancelWork(mayInterrupt bool) bool {
	accepted := guard.Get(e.g, func() bool {
		if e.settled {
			return false
		}
		e.settled = true
		return true
	})
	if !accepted {
		return false
	}
	e.cancelChildren(mayInterrupt)
	return e.NotifyCancelled()
}

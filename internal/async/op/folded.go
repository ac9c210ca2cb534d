package op

import (
	"context"
	"iter"
	"log/slog"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/guard"
)

// FoldFunc combines the running accumulator with a child's result.
type FoldFunc[A, T any] func(acc A, v T) A

// FoldedExecution runs a lazy sequence of children one at a time and folds
// their results into an accumulator. The first child failure or cancellation
// finishes the fold with the same outcome; later children are never pulled
// from the sequence.
type FoldedExecution[A, T any] struct {
	*async.Machine[A]
	children iter.Seq[async.Startable[T]]
	fold     FoldFunc[A, T]

	g         *guard.Guard
	next      func() (async.Startable[T], bool)
	stop      func()
	acc       A
	index     int
	current   async.Startable[T]
	cancelled bool
}

// step tracks one child so that a completion delivered while the child is
// still inside Start is handled by the advancing loop instead of recursing.
type step[T any] struct {
	starting bool
	finished bool
	result   async.Result[T]
}

// Folded creates a fold over children starting from initial.
func Folded[A, T any](children iter.Seq[async.Startable[T]], initial A, fold FoldFunc[A, T], opts ...Option) *FoldedExecution[A, T] {
	c := newConfig(opts)
	f := &FoldedExecution[A, T]{
		children: children,
		fold:     fold,
		g:        guard.New(),
		acc:      initial,
		index:    -1,
	}
	f.Machine = async.NewMachine[A](f, c.exec...)
	return f
}

// Start pulls and starts the first child.
func (f *FoldedExecution[A, T]) Start() error {
	if !f.NotifyStarting() {
		return async.AlreadyStarted(f.ID(), f.State())
	}
	next, stop := iter.Pull(f.children)
	f.g.Run(func() {
		f.next = next
		f.stop = stop
	})
	f.NotifyStarted()
	f.advance()
	return nil
}

// CurrentIndex returns the zero-based index of the current child, or -1
// before the first child was pulled.
func (f *FoldedExecution[A, T]) CurrentIndex() int {
	return guard.Get(f.g, func() int { return f.index })
}

// Current returns the current child, or nil before the first child was pulled.
func (f *FoldedExecution[A, T]) Current() async.Execution[T] {
	return guard.Get(f.g, func() async.Execution[T] {
		if f.current == nil {
			return nil
		}
		return f.current
	})
}

func (f *FoldedExecution[A, T]) advance() {
	for {
		var (
			child     async.Startable[T]
			exhausted bool
			cancelled bool
			acc       A
		)
		f.g.Run(func() {
			if f.cancelled {
				cancelled = true
				return
			}
			var ok bool
			child, ok = f.next()
			if !ok {
				exhausted = true
				acc = f.acc
				return
			}
			f.index++
			f.current = child
		})
		switch {
		case cancelled:
			f.release()
			f.NotifyCancelled()
			return
		case exhausted:
			f.release()
			f.NotifyCompleted(acc)
			return
		}

		st := &step[T]{starting: true}
		child.WhenFinished(func(_ context.Context, r async.Result[T]) { f.onChild(st, r) })
		if err := child.Start(); err != nil {
			f.Logger().Warn("sequence child did not start",
				slog.Int("index", f.CurrentIndex()),
				slog.String("error", err.Error()))
		}

		var (
			r       async.Result[T]
			settled bool
		)
		f.g.Run(func() {
			st.starting = false
			settled = st.finished
			r = st.result
		})
		if !settled {
			return
		}
		if !f.consume(r) {
			return
		}
	}
}

func (f *FoldedExecution[A, T]) onChild(st *step[T], r async.Result[T]) {
	deferred := guard.Get(f.g, func() bool {
		if st.starting {
			st.finished = true
			st.result = r
			return true
		}
		return false
	})
	if deferred {
		return
	}
	if f.consume(r) {
		f.advance()
	}
}

// consume folds a child result and reports whether the sequence continues.
func (f *FoldedExecution[A, T]) consume(r async.Result[T]) bool {
	switch r.State {
	case async.Completed:
		f.g.Run(func() { f.acc = f.fold(f.acc, r.Value) })
		return true
	case async.Failed:
		f.release()
		f.NotifyFailed(r.Err)
		return false
	default:
		f.release()
		f.NotifyCancelled()
		return false
	}
}

// release stops the underlying sequence iterator.
func (f *FoldedExecution[A, T]) release() {
	f.g.Run(func() {
		if f.stop != nil {
			f.stop()
			f.stop = nil
			f.next = func() (async.Startable[T], bool) { return nil, false }
		}
	})
}

// CancelWork cancels the current child only; children not yet pulled are
// never started.
func (f *FoldedExecution[A, T]) CancelWork(mayInterrupt bool) bool {
	var cur async.Startable[T]
	f.g.Run(func() {
		f.cancelled = true
		cur = f.current
	})
	if cur != nil && cur.Cancel(mayInterrupt) {
		return true
	}
	f.release()
	return f.NotifyCancelled()
}

// SequentialExecution runs children one at a time; its result is the last
// child's result.
type SequentialExecution[T any] struct {
	*FoldedExecution[T, T]
}

// Sequential creates a sequence over children. An empty sequence completes
// with the zero value.
func Sequential[T any](children iter.Seq[async.Startable[T]], opts ...Option) *SequentialExecution[T] {
	var zero T
	return &SequentialExecution[T]{
		FoldedExecution: Folded(children, zero, func(_ T, v T) T { return v }, opts...),
	}
}

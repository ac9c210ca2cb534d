package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rendis/asyncflow/pkg/schema"
)

// WorkFunc is a unit of work run on its own goroutine. It should observe ctx
// to honour interrupting cancellation.
type WorkFunc[T any] func(ctx context.Context) (T, error)

// GoExecution runs a WorkFunc on a dedicated goroutine (or the configured
// Executor). Interrupting cancellation cancels the work context; a
// non-interrupting cancellation finishes the execution at once and lets the
// work run to completion unobserved.
type GoExecution[T any] struct {
	*Machine[T]
	fn WorkFunc[T]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Go creates a goroutine-based execution. The work does not begin until Start.
func Go[T any](fn WorkFunc[T], opts ...Option) *GoExecution[T] {
	e := &GoExecution[T]{fn: fn}
	e.Machine = NewMachine[T](e, opts...)
	return e
}

// Start submits the work. A submission failure finishes the execution as
// failed rather than returning an error.
func (e *GoExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return AlreadyStarted(e.ID(), e.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = MarkWithin(ctx, e.ID())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	// A cancellation may have slipped in before the cancel func was stored.
	if e.State().IsTerminal() {
		cancel()
		return nil
	}

	ex := e.Executor()
	if ex == nil {
		ex = GoExecutor
	}
	err := ex.Submit(ctx, func(context.Context) error {
		e.run(ctx, cancel)
		return nil
	})
	if err != nil {
		cancel()
		e.NotifyFailed(schema.NewError(schema.ErrCodeExecution, "submit work").WithExecution(e.ID()).WithCause(err))
	}
	return nil
}

func (e *GoExecution[T]) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	e.NotifyStarted()

	v, err := e.call(ctx)
	switch {
	case err == nil:
		e.NotifyCompleted(v)
	case ctx.Err() != nil && e.CancelRequested():
		e.NotifyCancelled()
	default:
		e.NotifyFailed(RootCause(err))
	}
}

func (e *GoExecution[T]) call(ctx context.Context) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e.Logger().Error("work panicked", slog.Any("panic", rec))
			err = schema.NewError(schema.ErrCodeExecution, fmt.Sprintf("panic: %v", rec)).WithExecution(e.ID())
		}
	}()
	return e.fn(ctx)
}

// CancelWork implements CancellableWork.
func (e *GoExecution[T]) CancelWork(mayInterrupt bool) bool {
	if mayInterrupt {
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
			return true
		}
	}
	return e.NotifyCancelled()
}

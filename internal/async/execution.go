package async

import (
	"context"
	"log/slog"
)

// StartedListener is invoked once an execution is running.
type StartedListener func(ctx context.Context)

// FinishedListener is invoked once an execution reached a terminal state.
type FinishedListener[T any] func(ctx context.Context, r Result[T])

// Execution is a lifecycle-managed unit of asynchronous work.
type Execution[T any] interface {
	ID() string
	State() State
	// Result returns the terminal result, or false while still running.
	Result() (Result[T], bool)
	// Done is closed once a terminal state is reached.
	Done() <-chan struct{}
	// Cancel requests cancellation. It reports whether the request was accepted.
	Cancel(mayInterrupt bool) bool

	WhenStarted(fn StartedListener)
	WhenStartedAsync(ex Executor, fn StartedListener)
	WhenFinished(fn FinishedListener[T])
	WhenFinishedAsync(ex Executor, fn FinishedListener[T])

	WaitForStarted(ctx context.Context) error
	WaitForDone(ctx context.Context) (Result[T], error)
}

// Startable is an execution whose work begins only when Start is called.
type Startable[T any] interface {
	Execution[T]
	Start() error
}

// CancellableWork is the strategy hook that actually stops the work behind an
// execution: interrupting a goroutine, cancelling a future, or fanning out to
// child executions.
type CancellableWork interface {
	CancelWork(mayInterrupt bool) bool
}

// Handle is the type-erased view of a startable execution.
type Handle interface {
	ID() string
	State() State
	Done() <-chan struct{}
	Start() error
	Cancel(mayInterrupt bool) bool
}

type options struct {
	id       string
	name     string
	logger   *slog.Logger
	executor Executor
}

// Option configures an execution.
type Option func(*options)

// WithID sets the execution ID instead of a generated UUID.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithName sets a human-readable name used in logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExecutor sets the executor hosting goroutine-based work.
func WithExecutor(ex Executor) Option {
	return func(o *options) { o.executor = ex }
}

// Await starts e and blocks until it finishes, returning its value or error.
func Await[T any](ctx context.Context, e Startable[T]) (T, error) {
	var zero T
	if err := e.Start(); err != nil {
		return zero, err
	}
	r, err := e.WaitForDone(ctx)
	if err != nil {
		return zero, err
	}
	return r.Get()
}

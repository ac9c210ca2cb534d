package async

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/pkg/schema"
)

type startedEntry struct {
	fn StartedListener
	ex Executor
}

type finishedEntry[T any] struct {
	fn FinishedListener[T]
	ex Executor
}

// Machine is the lifecycle state machine shared by every execution. All
// transitions go through a single Guard; listeners are invoked after the lock
// is released, in registration order.
//
// Strategy-specific executions embed a Machine and pass themselves as the
// CancellableWork hook.
type Machine[T any] struct {
	id       string
	name     string
	logger   *slog.Logger
	executor Executor
	work     CancellableWork

	g               *guard.Guard
	state           State
	preCancel       State
	startedFired    bool
	cancelRequested bool
	result          Result[T]
	started         []startedEntry
	finished        []finishedEntry[T]
	done            chan struct{}
}

// NewMachine creates a Machine in NotStarted. work may be nil, in which case a
// cancellation request is honoured immediately.
func NewMachine[T any](work CancellableWork, opts ...Option) *Machine[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With(slog.String("execution_id", o.id))
	if o.name != "" {
		logger = logger.With(slog.String("execution", o.name))
	}
	return &Machine[T]{
		id:       o.id,
		name:     o.name,
		logger:   logger,
		executor: o.executor,
		work:     work,
		g:        guard.New(),
		state:    NotStarted,
		done:     make(chan struct{}),
	}
}

// ID returns the execution ID.
func (m *Machine[T]) ID() string { return m.id }

// Name returns the execution name, possibly empty.
func (m *Machine[T]) Name() string { return m.name }

// Logger returns the execution-scoped logger.
func (m *Machine[T]) Logger() *slog.Logger { return m.logger }

// Executor returns the configured executor, or nil.
func (m *Machine[T]) Executor() Executor { return m.executor }

// Done is closed once a terminal state is reached.
func (m *Machine[T]) Done() <-chan struct{} { return m.done }

// State returns the current lifecycle state.
func (m *Machine[T]) State() State {
	return guard.Get(m.g, func() State { return m.state })
}

// CancelRequested reports whether an accepted cancellation is pending or done.
func (m *Machine[T]) CancelRequested() bool {
	return guard.Get(m.g, func() bool { return m.cancelRequested })
}

// Result returns the terminal result, or false if not finished yet.
func (m *Machine[T]) Result() (Result[T], bool) {
	var r Result[T]
	ok := guard.Get(m.g, func() bool {
		r = m.result
		return m.state.IsTerminal()
	})
	return r, ok
}

// --- Transitions ---

// NotifyStarting moves NotStarted to Starting. It returns false when the
// execution already left NotStarted.
func (m *Machine[T]) NotifyStarting() bool {
	ok := guard.Get(m.g, func() bool {
		if m.state != NotStarted {
			return false
		}
		m.state = Starting
		m.g.Broadcast()
		return true
	})
	if ok {
		m.logger.Debug("execution starting")
	}
	return ok
}

// NotifyStarted moves Starting to Running and fires the started listeners.
// When a cancellation arrived during Starting the state stays Cancelling but
// the listeners still fire once.
func (m *Machine[T]) NotifyStarted() bool {
	var listeners []startedEntry
	ok := guard.Get(m.g, func() bool {
		if m.startedFired {
			return false
		}
		switch {
		case m.state == Starting:
			m.state = Running
		case m.state == Cancelling && m.preCancel == Starting:
		default:
			return false
		}
		m.startedFired = true
		listeners = m.started
		m.started = nil
		m.g.Broadcast()
		return true
	})
	if !ok {
		return false
	}
	m.logger.Debug("execution running")
	for _, l := range listeners {
		m.dispatch(l.ex, func(ctx context.Context) { l.fn(ctx) })
	}
	return true
}

// NotifyCompleting moves Running to Completing.
func (m *Machine[T]) NotifyCompleting() bool {
	return guard.Get(m.g, func() bool {
		if m.state != Running {
			return false
		}
		m.state = Completing
		m.g.Broadcast()
		return true
	})
}

// NotifyCompleted finishes the execution successfully with v.
func (m *Machine[T]) NotifyCompleted(v T) bool {
	return m.finish(Succeeded(v))
}

// NotifyFailed finishes the execution with cause.
func (m *Machine[T]) NotifyFailed(cause error) bool {
	if cause == nil {
		cause = schema.NewError(schema.ErrCodeExecution, "execution failed without a cause")
	}
	return m.finish(FailedWith[T](cause))
}

// NotifyCancelled finishes the execution as cancelled.
func (m *Machine[T]) NotifyCancelled() bool {
	return m.finish(CancelledResult[T]())
}

// Finish applies r as the terminal outcome. It is a no-op when a terminal
// state was already reached: the first terminal transition wins.
func (m *Machine[T]) Finish(r Result[T]) bool {
	switch r.State {
	case Completed:
		return m.NotifyCompleted(r.Value)
	case Failed:
		return m.NotifyFailed(r.Err)
	case Cancelled:
		return m.NotifyCancelled()
	default:
		return false
	}
}

func (m *Machine[T]) finish(r Result[T]) bool {
	var (
		listeners []finishedEntry[T]
		from      State
	)
	ok := guard.Get(m.g, func() bool {
		if !isValidTransition(m.state, r.State) {
			return false
		}
		from = m.state
		m.state = r.State
		m.result = r
		listeners = m.finished
		m.finished = nil
		m.started = nil
		close(m.done)
		m.g.Broadcast()
		return true
	})
	if !ok {
		return false
	}

	if r.State == Failed {
		m.logger.Debug("execution failed", slog.String("from", from.String()), slog.String("error", r.Err.Error()))
	} else {
		m.logger.Debug("execution finished", slog.String("from", from.String()), slog.String("state", r.State.String()))
	}
	for _, l := range listeners {
		m.dispatch(l.ex, func(ctx context.Context) { l.fn(ctx, r) })
	}
	return true
}

// --- Cancellation ---

// Cancel requests cancellation. An execution that never started is cancelled
// at once; otherwise the request is delegated to the CancellableWork hook and
// the execution stays Cancelling until the work reacts. Returns false when the
// execution already finished, a cancellation is already pending, or the hook
// rejected the request.
func (m *Machine[T]) Cancel(mayInterrupt bool) bool {
	direct := false
	accepted := guard.Get(m.g, func() bool {
		switch {
		case m.state.IsTerminal(), m.state == Cancelling:
			return false
		case m.state == NotStarted:
			direct = true
			m.cancelRequested = true
			return true
		}
		m.preCancel = m.state
		m.state = Cancelling
		m.cancelRequested = true
		m.g.Broadcast()
		return true
	})
	if !accepted {
		return false
	}
	if direct || m.work == nil {
		return m.NotifyCancelled()
	}

	if m.work.CancelWork(mayInterrupt) {
		return true
	}
	m.g.Run(func() {
		if m.state == Cancelling {
			m.state = m.preCancel
			// The work may have started while the request was pending.
			if m.state == Starting && m.startedFired {
				m.state = Running
			}
			m.cancelRequested = false
			m.g.Broadcast()
		}
	})
	return false
}

// --- Listeners ---

// WhenStarted registers fn to run inline once the execution is running.
func (m *Machine[T]) WhenStarted(fn StartedListener) {
	m.WhenStartedAsync(nil, fn)
}

// WhenStartedAsync registers fn to run on ex once the execution is running.
// A listener registered after the start fires immediately. Executions that
// are cancelled before starting never fire started listeners.
func (m *Machine[T]) WhenStartedAsync(ex Executor, fn StartedListener) {
	fireNow := guard.Get(m.g, func() bool {
		if m.startedFired {
			return true
		}
		if !m.state.IsTerminal() {
			m.started = append(m.started, startedEntry{fn: fn, ex: ex})
		}
		return false
	})
	if fireNow {
		m.dispatch(ex, func(ctx context.Context) { fn(ctx) })
	}
}

// WhenFinished registers fn to run inline once the execution finished.
func (m *Machine[T]) WhenFinished(fn FinishedListener[T]) {
	m.WhenFinishedAsync(nil, fn)
}

// WhenFinishedAsync registers fn to run on ex once the execution finished.
// A listener registered after the terminal transition fires immediately with
// the already determined result.
func (m *Machine[T]) WhenFinishedAsync(ex Executor, fn FinishedListener[T]) {
	var r Result[T]
	fireNow := guard.Get(m.g, func() bool {
		if m.state.IsTerminal() {
			r = m.result
			return true
		}
		m.finished = append(m.finished, finishedEntry[T]{fn: fn, ex: ex})
		return false
	})
	if fireNow {
		m.dispatch(ex, func(ctx context.Context) { fn(ctx, r) })
	}
}

func (m *Machine[T]) dispatch(ex Executor, fn func(ctx context.Context)) {
	ctx := MarkWithin(context.Background(), m.id)
	call := func(ctx context.Context) error {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error("listener panicked", slog.Any("panic", rec))
			}
		}()
		fn(ctx)
		return nil
	}
	if ex == nil {
		_ = call(ctx)
		return
	}
	if err := ex.Submit(ctx, call); err != nil {
		m.logger.Warn("listener executor rejected callback, running on a new goroutine",
			slog.String("error", err.Error()))
		go func() { _ = call(ctx) }()
	}
}

// --- Waiting ---

// WaitForStarted blocks until the execution is running or finished. Calling
// it from a lifecycle callback of the same execution fails with SELF_WAIT.
func (m *Machine[T]) WaitForStarted(ctx context.Context) error {
	if IsWithin(ctx, m.id) {
		return schema.NewError(schema.ErrCodeSelfWait, "wait for start from own callback").WithExecution(m.id)
	}
	err := m.g.Await(ctx, func() bool { return m.startedFired || m.state.IsTerminal() })
	if err != nil {
		return waitError(m.id, err)
	}
	return nil
}

// WaitForStartedTimeout is WaitForStarted bounded by timeout.
func (m *Machine[T]) WaitForStartedTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return m.WaitForStarted(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.WaitForStarted(ctx)
}

// WaitForDone blocks until the execution reached a terminal state and returns
// its result. Calling it from a lifecycle callback or the work of the same
// execution fails with SELF_WAIT instead of deadlocking.
func (m *Machine[T]) WaitForDone(ctx context.Context) (Result[T], error) {
	if IsWithin(ctx, m.id) {
		return Result[T]{}, schema.NewError(schema.ErrCodeSelfWait, "wait for completion from own callback").WithExecution(m.id)
	}
	var r Result[T]
	err := m.g.Await(ctx, func() bool {
		r = m.result
		return m.state.IsTerminal()
	})
	if err != nil {
		return Result[T]{}, waitError(m.id, err)
	}
	return r, nil
}

// WaitForDoneTimeout is WaitForDone bounded by timeout.
func (m *Machine[T]) WaitForDoneTimeout(ctx context.Context, timeout time.Duration) (Result[T], error) {
	if timeout <= 0 {
		return m.WaitForDone(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.WaitForDone(ctx)
}

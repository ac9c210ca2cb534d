package op

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/internal/scheduler"
	"github.com/rendis/asyncflow/pkg/schema"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy controls a retried execution.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
	// MaxDelay caps the computed delay when positive.
	MaxDelay time.Duration
	// Retryable decides whether a failure is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool
}

// IsRetryable classifies a failure. Cancellation and caller errors are
// final; deadline overruns and everything else are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return true
}

// BackoffFor returns the delay before the attempt following failed attempt
// number attempt (0-based).
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Backoff {
	case BackoffExponential:
		d = p.Delay
		for i := 0; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d > p.MaxDelay {
				break
			}
		}
	case BackoffLinear:
		d = p.Delay * time.Duration(attempt+1)
	default:
		d = p.Delay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// RetriedExecution runs fresh attempts from a factory until one completes,
// a failure is not retryable, or the attempts run out. A cancelled attempt
// ends the execution Cancelled.
type RetriedExecution[T any] struct {
	*async.Machine[T]
	factory func(attempt int) async.Startable[T]
	policy  RetryPolicy
	sched   *scheduler.Scheduler

	g         *guard.Guard
	attempt   int
	active    async.Startable[T]
	disarm    func() bool
	cancelled bool
}

// Retried creates a retried execution. factory is called with the 0-based
// attempt number and must return an unstarted execution each time.
func Retried[T any](factory func(attempt int) async.Startable[T], policy RetryPolicy, opts ...Option) *RetriedExecution[T] {
	c := newConfig(opts)
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}
	e := &RetriedExecution[T]{
		factory: factory,
		policy:  policy,
		sched:   c.sched,
		g:       guard.New(),
	}
	e.Machine = async.NewMachine[T](e, c.exec...)
	return e
}

// Attempts returns how many attempts were launched so far.
func (e *RetriedExecution[T]) Attempts() int {
	return guard.Get(e.g, func() int { return e.attempt })
}

// Start launches the first attempt.
func (e *RetriedExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return async.AlreadyStarted(e.ID(), e.State())
	}
	e.NotifyStarted()
	e.launch()
	return nil
}

func (e *RetriedExecution[T]) launch() {
	var child async.Startable[T]
	ok := guard.Get(e.g, func() bool {
		if e.cancelled {
			return false
		}
		child = e.factory(e.attempt)
		e.attempt++
		e.active = child
		e.disarm = nil
		return true
	})
	if !ok {
		return
	}
	child.WhenFinished(func(_ context.Context, r async.Result[T]) { e.onAttempt(r) })
	if err := child.Start(); err != nil {
		if guard.Get(e.g, func() bool { return e.cancelled }) {
			return
		}
		e.NotifyFailed(err)
	}
}

func (e *RetriedExecution[T]) onAttempt(r async.Result[T]) {
	if !r.IsFailed() {
		e.Finish(r)
		return
	}
	var n int
	retry := guard.Get(e.g, func() bool {
		n = e.attempt
		if e.cancelled || n >= e.policy.attempts() || !e.policy.Retryable(r.Err) {
			return false
		}
		e.active = nil
		e.disarm = e.sched.After(e.policy.BackoffFor(n-1), e.launch)
		return true
	})
	if !retry {
		e.Finish(r)
		return
	}
	e.Logger().Debug("retrying after failed attempt",
		slog.Int("attempt", n), slog.String("error", r.Err.Error()))
}

// CancelWork cancels the running attempt, or drops the pending one while
// waiting out a backoff.
func (e *RetriedExecution[T]) CancelWork(mayInterrupt bool) bool {
	var (
		active async.Startable[T]
		disarm func() bool
	)
	e.g.Run(func() {
		e.cancelled = true
		active = e.active
		disarm = e.disarm
	})
	if active == nil {
		if disarm != nil {
			disarm()
		}
		return e.NotifyCancelled()
	}
	if active.Cancel(mayInterrupt) {
		return true
	}
	e.g.Run(func() { e.cancelled = false })
	return false
}

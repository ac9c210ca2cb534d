package op

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/internal/scheduler"
)

// timedPhase records why a timed execution is leaving Running, so that a
// deadline firing and the target finishing never both produce an outcome.
type timedPhase int

const (
	timedIdle timedPhase = iota
	timedRunning
	timedTimeoutCancel
	timedParentCancel
	timedTargetCancel
	timedTargetDone
)

func (p timedPhase) String() string {
	switch p {
	case timedIdle:
		return "idle"
	case timedRunning:
		return "running"
	case timedTimeoutCancel:
		return "timeout_cancel"
	case timedParentCancel:
		return "parent_cancel"
	case timedTargetCancel:
		return "target_cancel"
	case timedTargetDone:
		return "target_done"
	default:
		return "unknown"
	}
}

// TimedExecution races a target execution against a deadline. If the target
// finishes first, the outcome mirrors it. If the deadline fires first, the
// target is cancelled and the execution ends Cancelled, or, when a fallback
// is configured, mirrors the fallback instead.
type TimedExecution[T any] struct {
	*async.Machine[T]
	target   async.Startable[T]
	timeout  time.Duration
	sched    *scheduler.Scheduler
	fallback func() async.Startable[T]

	g       *guard.Guard
	phase   timedPhase
	expired bool
	disarm  func() bool
	active  async.Startable[T]
	// dropped is set when the execution was cancelled after the deadline
	// fired but before the fallback existed.
	dropped bool
}

// Timed creates a timed execution around target.
func Timed[T any](target async.Startable[T], timeout time.Duration, opts ...Option) *TimedExecution[T] {
	c := newConfig(opts)
	e := &TimedExecution[T]{
		target:  target,
		timeout: timeout,
		sched:   c.sched,
		g:       guard.New(),
	}
	e.Machine = async.NewMachine[T](e, c.exec...)
	return e
}

// WithFallback configures an execution started when the deadline fires. The
// timed execution then mirrors the fallback rather than ending Cancelled.
// It must be called before Start.
func (e *TimedExecution[T]) WithFallback(fn func() async.Startable[T]) *TimedExecution[T] {
	e.fallback = fn
	return e
}

// Target returns the raced execution.
func (e *TimedExecution[T]) Target() async.Execution[T] { return e.target }

// Phase returns the internal phase name, for diagnostics.
func (e *TimedExecution[T]) Phase() string {
	return guard.Get(e.g, func() timedPhase { return e.phase }).String()
}

// Start arms the deadline and starts the target.
func (e *TimedExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return async.AlreadyStarted(e.ID(), e.State())
	}
	e.target.WhenFinished(func(_ context.Context, r async.Result[T]) { e.onTarget(r) })
	e.NotifyStarted()

	armed := guard.Get(e.g, func() bool {
		if e.phase != timedIdle {
			return false
		}
		e.phase = timedRunning
		e.disarm = e.sched.After(e.timeout, e.onTimeout)
		return true
	})
	if !armed {
		return nil
	}
	if err := e.target.Start(); err != nil {
		e.Logger().Warn("timed target did not start", slog.String("error", err.Error()))
	}
	return nil
}

func (e *TimedExecution[T]) onTimeout() {
	fire := guard.Get(e.g, func() bool {
		switch e.phase {
		case timedRunning:
			e.phase = timedTimeoutCancel
			return true
		case timedParentCancel:
			e.expired = true
		}
		return false
	})
	if !fire {
		return
	}
	e.Logger().Debug("timed execution deadline reached", slog.Duration("timeout", e.timeout))
	e.target.Cancel(true)

	if e.fallback == nil {
		e.NotifyCancelled()
		return
	}
	fb := e.fallback()
	fb.WhenFinished(func(_ context.Context, r async.Result[T]) { e.Finish(r) })
	start := guard.Get(e.g, func() bool {
		if e.dropped {
			return false
		}
		e.active = fb
		return true
	})
	if !start {
		e.Logger().Debug("timed fallback dropped after cancellation")
		return
	}
	if err := fb.Start(); err != nil {
		e.Logger().Warn("timed fallback did not start", slog.String("error", err.Error()))
		e.NotifyFailed(err)
	}
}

func (e *TimedExecution[T]) onTarget(r async.Result[T]) {
	var disarm func() bool
	mirror := guard.Get(e.g, func() bool {
		switch e.phase {
		case timedIdle, timedRunning:
			if r.IsCancelled() {
				e.phase = timedTargetCancel
			} else {
				e.phase = timedTargetDone
			}
		case timedParentCancel:
		default:
			return false
		}
		disarm = e.disarm
		return true
	})
	if !mirror {
		return
	}
	if disarm != nil {
		disarm()
	}
	e.Finish(r)
}

// CancelWork forwards the cancellation to the target, or to the fallback once
// the deadline already fired.
func (e *TimedExecution[T]) CancelWork(mayInterrupt bool) bool {
	var (
		prev timedPhase
		fb   async.Startable[T]
	)
	e.g.Run(func() {
		prev = e.phase
		switch e.phase {
		case timedIdle, timedRunning:
			e.phase = timedParentCancel
		case timedTimeoutCancel:
			fb = e.active
			e.dropped = fb == nil
		}
	})

	switch prev {
	case timedIdle, timedRunning:
	case timedTimeoutCancel:
		if fb != nil {
			return fb.Cancel(mayInterrupt)
		}
		return e.NotifyCancelled()
	default:
		return false
	}

	if e.target.Cancel(mayInterrupt) {
		var disarm func() bool
		e.g.Run(func() { disarm = e.disarm })
		if disarm != nil {
			disarm()
		}
		return true
	}

	// The target refused: resume the race, honouring a deadline that fired
	// in the meantime.
	expired := guard.Get(e.g, func() bool {
		if e.phase != timedParentCancel {
			return false
		}
		e.phase = prev
		exp := e.expired
		e.expired = false
		return exp && prev == timedRunning
	})
	if expired {
		go e.onTimeout()
	}
	return false
}

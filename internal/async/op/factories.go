package op

import (
	"sync"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/scheduler"
)

// ImmediateExecution finishes with a fixed result as soon as it is started.
type ImmediateExecution[T any] struct {
	*async.Machine[T]
	result async.Result[T]
}

// Nop returns an execution that completes with v when started.
func Nop[T any](v T, opts ...Option) *ImmediateExecution[T] {
	return immediate(async.Succeeded(v), opts)
}

// Failure returns an execution that fails with cause when started.
func Failure[T any](cause error, opts ...Option) *ImmediateExecution[T] {
	return immediate(async.FailedWith[T](cause), opts)
}

func immediate[T any](r async.Result[T], opts []Option) *ImmediateExecution[T] {
	c := newConfig(opts)
	e := &ImmediateExecution[T]{result: r}
	e.Machine = async.NewMachine[T](e, c.exec...)
	return e
}

// Start finishes the execution synchronously.
func (e *ImmediateExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return async.AlreadyStarted(e.ID(), e.State())
	}
	e.NotifyStarted()
	e.Finish(e.result)
	return nil
}

// CancelWork implements async.CancellableWork.
func (e *ImmediateExecution[T]) CancelWork(bool) bool {
	return e.NotifyCancelled()
}

// TimerExecution completes once a deadline computed at start time elapses.
type TimerExecution[T any] struct {
	*async.Machine[T]
	sched    *scheduler.Scheduler
	deadline func(now time.Time) time.Time
	value    func(fire time.Time) T

	mu     sync.Mutex
	disarm func() bool
}

// Idle returns an execution that completes with v after delay d.
func Idle[T any](d time.Duration, v T, opts ...Option) *TimerExecution[T] {
	return timer(func(now time.Time) time.Time { return now.Add(d) },
		func(time.Time) T { return v }, opts)
}

// AtCron returns an execution that completes with the fire time at the next
// match of a cron expression after it is started.
func AtCron(expr string, opts ...Option) (*TimerExecution[time.Time], error) {
	c := newConfig(opts)
	schedule, err := c.sched.Parse(expr)
	if err != nil {
		return nil, err
	}
	return timer(schedule.Next, func(fire time.Time) time.Time { return fire }, opts), nil
}

func timer[T any](deadline func(time.Time) time.Time, value func(time.Time) T, opts []Option) *TimerExecution[T] {
	c := newConfig(opts)
	e := &TimerExecution[T]{sched: c.sched, deadline: deadline, value: value}
	e.Machine = async.NewMachine[T](e, c.exec...)
	return e
}

// Start arms the deadline.
func (e *TimerExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return async.AlreadyStarted(e.ID(), e.State())
	}
	e.NotifyStarted()
	fire := e.deadline(time.Now())
	e.mu.Lock()
	e.disarm = e.sched.At(fire, func() { e.NotifyCompleted(e.value(fire)) })
	e.mu.Unlock()
	return nil
}

// CancelWork implements async.CancellableWork.
func (e *TimerExecution[T]) CancelWork(bool) bool {
	e.mu.Lock()
	disarm := e.disarm
	e.mu.Unlock()
	if disarm != nil {
		disarm()
	}
	return e.NotifyCancelled()
}

// Package op composes executions into higher-order asynchronous workflows:
// sequential, folded, concurrent, backgrounded, timed and retried
// combinators, plus trivial building blocks (nop, failure, idle, cron).
//
// Every combinator is itself an execution. It subscribes to the lifecycle of
// its children and derives its own transitions from theirs; cancelling a
// combinator fans out to the children it owns.
package op

import (
	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/scheduler"
)

type config struct {
	exec  []async.Option
	sched *scheduler.Scheduler
}

// Option configures a combinator.
type Option func(*config)

// WithExecutionOptions forwards options to the combinator's own execution.
func WithExecutionOptions(opts ...async.Option) Option {
	return func(c *config) { c.exec = append(c.exec, opts...) }
}

// WithScheduler sets the scheduler used for deadlines and delays. Defaults
// to scheduler.Default().
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(c *config) { c.sched = s }
}

func newConfig(opts []Option) config {
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	if c.sched == nil {
		c.sched = scheduler.Default()
	}
	return c
}

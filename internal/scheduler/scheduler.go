// Package scheduler provides the shared deadline scheduler used by timed
// combinators and a cron runner that starts executions on a schedule.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs one-shot deadline tasks. Each task fires on its own
// goroutine; cancelling a task that already fired is a no-op.
type Scheduler struct {
	logger *slog.Logger
	parser cron.Parser

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	seq     uint64
	stopped bool
}

var (
	defaultOnce  sync.Once
	defaultSched *Scheduler
)

// Default returns the process-wide shared scheduler.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultSched = New(slog.Default())
	})
	return defaultSched
}

// New creates a Scheduler. Cron expressions accept an optional leading
// seconds field and descriptors such as @hourly.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers: make(map[uint64]*time.Timer),
	}
}

// After runs fn once d has elapsed. The returned function cancels the task and
// reports whether it prevented fn from running.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn("task scheduled on stopped scheduler dropped")
		return func() bool { return false }
	}

	s.seq++
	id := s.seq
	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			fn()
		}
	})

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		t, ok := s.timers[id]
		if !ok {
			return false
		}
		delete(s.timers, id)
		return t.Stop()
	}
}

// At runs fn at t, or immediately if t is in the past.
func (s *Scheduler) At(t time.Time, fn func()) (cancel func() bool) {
	return s.After(time.Until(t), fn)
}

// Pending returns the number of tasks not yet fired or cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending tasks and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.stopped = true
}

// Parse parses a cron expression.
func (s *Scheduler) Parse(expr string) (cron.Schedule, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextRun computes the next fire time of a cron expression after from.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := s.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

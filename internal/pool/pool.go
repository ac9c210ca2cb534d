// Package pool provides a bounded goroutine pool that hosts goroutine-based
// executions and asynchronous listener callbacks.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/pkg/schema"
)

// Metrics tracks pool operational counters.
type Metrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrShutdown is returned when work is submitted to a shut-down pool.
var ErrShutdown = schema.NewError(schema.ErrCodePrecondition, "worker pool is shut down")

// Pool is a bounded goroutine pool. It implements async.Executor.
type Pool struct {
	name    string
	logger  *slog.Logger
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics Metrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// New creates a pool with the given max concurrency.
func New(name string, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		name:   name,
		logger: logger.With(slog.String("pool", name)),
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
	}
}

// Submit runs fn on a pool goroutine. It blocks while the pool is at capacity
// and respects ctx while waiting. Returns ErrShutdown once Shutdown was called.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrShutdown
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrShutdown
	}
	return p.launch(ctx, fn)
}

// TrySubmit is Submit without blocking: it reports false when no slot is free.
func (p *Pool) TrySubmit(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	if p.isClosed() {
		return false, ErrShutdown
	}
	select {
	case p.sem <- struct{}{}:
	default:
		return false, nil
	}
	if err := p.launch(ctx, fn); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// launch starts fn on a goroutine holding an acquired slot.
func (p *Pool) launch(ctx context.Context, fn func(ctx context.Context) error) error {
	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.logger.Error("pooled task panicked", slog.Any("panic", r))
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.logger.Debug("pooled task failed", slog.String("error", err.Error()))
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()
	return nil
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for active work to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("pool shut down")
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

var _ async.Executor = (*Pool)(nil)

package async

import (
	"errors"
	"sync"

	"github.com/rendis/asyncflow/pkg/schema"
)

// Future is a pre-existing asynchronous handle.
type Future[T any] interface {
	// Done is closed once the value is available.
	Done() <-chan struct{}
	// Value returns the settled value or error. A cancelled future returns an
	// error matching ErrCancelled.
	Value() (T, error)
	// Cancel attempts to cancel the computation.
	Cancel() bool
}

// Promise is a Future settled explicitly by its producer.
type Promise[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   T
	err     error
}

// NewPromise creates an unsettled promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve settles the promise with v. It returns false if already settled.
func (p *Promise[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject settles the promise with err.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

// Cancel settles the promise as cancelled.
func (p *Promise[T]) Cancel() bool {
	var zero T
	return p.settle(zero, schema.NewError(schema.ErrCodeCancelled, "promise cancelled"))
}

func (p *Promise[T]) settle(v T, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return false
	}
	p.settled = true
	p.value = v
	p.err = err
	close(p.done)
	return true
}

func (p *Promise[T]) Done() <-chan struct{} { return p.done }

func (p *Promise[T]) Value() (T, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

var _ Future[int] = (*Promise[int])(nil)

// FutureExecution adapts a Future to the execution lifecycle. Cancellation
// delegates to the future's Cancel.
type FutureExecution[T any] struct {
	*Machine[T]
	future Future[T]
}

// FromFuture wraps f. The future is only observed once Start is called.
func FromFuture[T any](f Future[T], opts ...Option) *FutureExecution[T] {
	e := &FutureExecution[T]{future: f}
	e.Machine = NewMachine[T](e, opts...)
	return e
}

// Start begins observing the future.
func (e *FutureExecution[T]) Start() error {
	if !e.NotifyStarting() {
		return AlreadyStarted(e.ID(), e.State())
	}
	e.NotifyStarted()
	go e.watch()
	return nil
}

func (e *FutureExecution[T]) watch() {
	select {
	case <-e.future.Done():
	case <-e.Done():
		return
	}
	v, err := e.future.Value()
	switch {
	case err == nil:
		e.NotifyCompleted(v)
	case errors.Is(err, ErrCancelled):
		e.NotifyCancelled()
	default:
		e.NotifyFailed(RootCause(err))
	}
}

// CancelWork implements CancellableWork.
func (e *FutureExecution[T]) CancelWork(bool) bool {
	return e.future.Cancel()
}

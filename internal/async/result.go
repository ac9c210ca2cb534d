package async

import "github.com/rendis/asyncflow/pkg/schema"

// Result is the terminal outcome of an execution. Value is meaningful only
// when State is Completed and Err only when State is Failed.
type Result[T any] struct {
	State State
	Value T
	Err   error
}

// Succeeded builds a completed result.
func Succeeded[T any](v T) Result[T] {
	return Result[T]{State: Completed, Value: v}
}

// FailedWith builds a failed result.
func FailedWith[T any](err error) Result[T] {
	return Result[T]{State: Failed, Err: err}
}

// CancelledResult builds a cancelled result.
func CancelledResult[T any]() Result[T] {
	return Result[T]{State: Cancelled}
}

func (r Result[T]) IsCompleted() bool { return r.State == Completed }
func (r Result[T]) IsFailed() bool    { return r.State == Failed }
func (r Result[T]) IsCancelled() bool { return r.State == Cancelled }

// Get returns the value, the failure cause, or a CANCELLED error.
func (r Result[T]) Get() (T, error) {
	var zero T
	switch r.State {
	case Completed:
		return r.Value, nil
	case Failed:
		return zero, r.Err
	case Cancelled:
		return zero, schema.NewError(schema.ErrCodeCancelled, "execution cancelled")
	default:
		return zero, schema.NewErrorf(schema.ErrCodePrecondition, "result not available in state %s", r.State)
	}
}

// Map converts a result to another value type, keeping failure and
// cancellation outcomes as they are.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	switch r.State {
	case Completed:
		return Succeeded(fn(r.Value))
	case Failed:
		return FailedWith[U](r.Err)
	default:
		return Result[U]{State: r.State}
	}
}

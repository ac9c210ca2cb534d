package async

import (
	"context"
	"errors"

	"github.com/rendis/asyncflow/pkg/schema"
)

// Sentinel errors. Compare with errors.Is; matching is by error code, so
// errors carrying extra context still match.
var (
	ErrTimeout      = schema.NewError(schema.ErrCodeTimeout, "wait timed out")
	ErrInterrupted  = schema.NewError(schema.ErrCodeInterrupted, "wait interrupted")
	ErrCancelled    = schema.NewError(schema.ErrCodeCancelled, "execution cancelled")
	ErrSelfWait     = schema.NewError(schema.ErrCodeSelfWait, "execution waits for itself")
	ErrPrecondition = schema.NewError(schema.ErrCodePrecondition, "precondition violated")
)

// AlreadyStarted reports a Start call on an execution that left NotStarted.
func AlreadyStarted(id string, s State) error {
	return schema.NewErrorf(schema.ErrCodePrecondition, "cannot start execution in state %s", s).
		WithExecution(id)
}

// RootCause follows the Unwrap chain to the innermost error.
func RootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}

func waitError(id string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return schema.NewError(schema.ErrCodeTimeout, "wait timed out").WithExecution(id).WithCause(err)
	case errors.Is(err, context.Canceled):
		return schema.NewError(schema.ErrCodeInterrupted, "wait interrupted").WithExecution(id).WithCause(err)
	default:
		return err
	}
}

package op

import (
	"context"
	"log/slog"

	"github.com/rendis/asyncflow/internal/async"
)

// BackgroundedExecution runs a foreground and a background execution side by
// side. Its outcome mirrors the foreground exactly; once the foreground
// finished, the background is cancelled. The background's own outcome never
// affects the composite.
type BackgroundedExecution[T, B any] struct {
	*async.EventDriven[T]
	foreground async.Startable[T]
	background async.Startable[B]
}

// Backgrounded creates a composite of foreground and background.
func Backgrounded[T, B any](foreground async.Startable[T], background async.Startable[B], opts ...Option) *BackgroundedExecution[T, B] {
	c := newConfig(opts)
	e := &BackgroundedExecution[T, B]{foreground: foreground, background: background}
	// Cancelling the composite cancels the foreground, which it mirrors.
	e.EventDriven = async.NewEventDriven[T](foreground.Cancel, c.exec...)
	return e
}

// Start starts the background, then the foreground.
func (e *BackgroundedExecution[T, B]) Start() error {
	if err := e.EventDriven.Start(); err != nil {
		return err
	}
	e.foreground.WhenFinished(func(_ context.Context, r async.Result[T]) { e.onForeground(r) })

	if err := e.background.Start(); err != nil {
		e.Logger().Warn("background did not start", slog.String("error", err.Error()))
	}
	if err := e.foreground.Start(); err != nil {
		e.Logger().Warn("foreground did not start", slog.String("error", err.Error()))
	}
	return nil
}

// Foreground returns the foreground execution.
func (e *BackgroundedExecution[T, B]) Foreground() async.Execution[T] { return e.foreground }

// Background returns the background execution.
func (e *BackgroundedExecution[T, B]) Background() async.Execution[B] { return e.background }

func (e *BackgroundedExecution[T, B]) onForeground(r async.Result[T]) {
	e.background.Cancel(true)
	e.Finish(r)
}

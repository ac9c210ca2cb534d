package async

// EventDriven is an execution with no work of its own: its transitions are
// driven entirely by external Notify* calls. op.Backgrounded embeds it and
// forwards cancellation to its foreground. Combinators that track their
// own cancellation state, and state charts, embed a Machine directly.
type EventDriven[T any] struct {
	*Machine[T]
	onCancel func(mayInterrupt bool) bool
}

// NewEventDriven creates an event-driven execution. onCancel implements the
// cancellation hook; when nil, a cancellation request finishes the execution
// as cancelled immediately.
func NewEventDriven[T any](onCancel func(mayInterrupt bool) bool, opts ...Option) *EventDriven[T] {
	e := &EventDriven[T]{onCancel: onCancel}
	e.Machine = NewMachine[T](e, opts...)
	return e
}

// Start moves the execution to Running.
func (e *EventDriven[T]) Start() error {
	if !e.NotifyStarting() {
		return AlreadyStarted(e.ID(), e.State())
	}
	e.NotifyStarted()
	return nil
}

// CancelWork implements CancellableWork.
func (e *EventDriven[T]) CancelWork(mayInterrupt bool) bool {
	if e.onCancel == nil {
		return e.NotifyCancelled()
	}
	return e.onCancel(mayInterrupt)
}

package schema

// Lifecycle event type constants published on the event hub.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"

	EventSignalReceived  = "signal_received"
	EventSignalIgnored   = "signal_ignored"
	EventStateEntered    = "state_entered"
	EventStateExited     = "state_exited"
	EventChartTransition = "chart_transition"
)

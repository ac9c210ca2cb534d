package async

// State is the lifecycle state of an execution.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Completing
	Completed
	Failed
	Cancelling
	Cancelled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Completing:
		return "completing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelling:
		return "cancelling"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// validTransitions defines the allowed lifecycle transitions. Terminal states
// have no outgoing edges.
var validTransitions = map[State][]State{
	NotStarted: {Starting, Cancelled},
	Starting:   {Running, Cancelling, Completed, Failed, Cancelled},
	Running:    {Completing, Cancelling, Completed, Failed, Cancelled},
	Completing: {Cancelling, Completed, Failed, Cancelled},
	Cancelling: {Completed, Failed, Cancelled},
	Completed:  {},
	Failed:     {},
	Cancelled:  {},
}

func isValidTransition(from, to State) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

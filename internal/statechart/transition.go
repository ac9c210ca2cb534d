package statechart

// Transition links a state to an optional target path and an optional
// action run between exit and enter. A transition without target is a stay:
// it changes nothing and runs nothing.
type Transition struct {
	target string
	action Action
}

// To creates a transition to the state at path.
func To(path string) Transition {
	return Transition{target: path}
}

// Stay creates a self-loop without exit, enter or action.
func Stay() Transition {
	return Transition{}
}

// With returns a copy of t running a during traversal. It is ignored on a
// stay.
func (t Transition) With(a Action) Transition {
	if t.target == "" {
		return t
	}
	t.action = a
	return t
}

// Target returns the target path, empty for a stay.
func (t Transition) Target() string { return t.target }

// IsStay reports whether t has no target.
func (t Transition) IsStay() bool { return t.target == "" }

// HasAction reports whether t runs an action.
func (t Transition) HasAction() bool { return t.action != nil }

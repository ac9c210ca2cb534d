package statechart

import (
	"context"
	"strings"

	"github.com/rendis/asyncflow/pkg/schema"
)

// Kind identifies one of the closed set of state implementations.
type Kind string

const (
	KindSink      Kind = "sink"
	KindException Kind = "exception"
	KindSingle    Kind = "single"
	KindTable     Kind = "table"
	KindChoice    Kind = "choice"
	KindComposite Kind = "composite"
	KindFunc      Kind = "func"
)

// State is a node of a chart identified by its dot-segmented path. The set of
// implementations is closed: Sink, Exception, Single, Table, Choice,
// Composite and Func.
type State interface {
	Path() string
	Kind() Kind
	core() *stateCore
}

// StateOption configures enter and exit behaviour shared by every state kind.
type StateOption func(*stateCore)

// OnEnter appends an action run when the state is entered.
func OnEnter(a Action) StateOption {
	return func(c *stateCore) { c.onEnter = append(c.onEnter, a) }
}

// OnExit appends an action run when the state is exited.
func OnExit(a Action) StateOption {
	return func(c *stateCore) { c.onExit = append(c.onExit, a) }
}

// Describe sets a human-readable description used by diagrams.
func Describe(text string) StateOption {
	return func(c *stateCore) { c.description = text }
}

type stateCore struct {
	path        string
	description string
	onEnter     []Action
	onExit      []Action
}

func newCore(path string, opts []StateOption) stateCore {
	c := stateCore{path: path}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *stateCore) Path() string        { return c.path }
func (c *stateCore) Description() string { return c.description }
func (c *stateCore) core() *stateCore    { return c }

// Parent returns the path of the enclosing composite, or "" for a top-level
// path.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Depth returns the number of path segments.
func Depth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".") + 1
}

// --- Sink ---

// SinkState has no outgoing transitions.
type SinkState struct{ stateCore }

// Sink creates a state with no outgoing transitions.
func Sink(path string, opts ...StateOption) *SinkState {
	return &SinkState{stateCore: newCore(path, opts)}
}

func (*SinkState) Kind() Kind { return KindSink }

// --- Exception ---

// ExceptionState is a sink carrying a failure cause. A chart reaching it as a
// final state fails with that cause.
type ExceptionState struct {
	stateCore
	cause error
}

// Exception creates an exception state failing with cause.
func Exception(path string, cause error, opts ...StateOption) *ExceptionState {
	if cause == nil {
		cause = schema.NewErrorf(schema.ErrCodeExecution, "chart reached exception state %q", path)
	}
	return &ExceptionState{stateCore: newCore(path, opts), cause: cause}
}

func (*ExceptionState) Kind() Kind { return KindException }

// Cause returns the failure carried by the state.
func (s *ExceptionState) Cause() error { return s.cause }

// --- Single ---

// SingleState takes the same transition for any signal.
type SingleState struct {
	stateCore
	next Transition
}

// Single creates a state leaving through next on the first signal.
func Single(path string, next Transition, opts ...StateOption) *SingleState {
	return &SingleState{stateCore: newCore(path, opts), next: next}
}

func (*SingleState) Kind() Kind { return KindSingle }

// Next returns the only outgoing transition.
func (s *SingleState) Next() Transition { return s.next }

// --- Table ---

// Wildcard matches any signal in a transition table.
const Wildcard = "*"

type table struct {
	keys []string
	on   map[string]Transition
}

func (t *table) set(key string, tr Transition) {
	if t.on == nil {
		t.on = make(map[string]Transition)
	}
	if _, ok := t.on[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.on[key] = tr
}

// lookup matches the signal name first, then its type, then the wildcard.
func (t *table) lookup(sig schema.Signal) (Transition, bool) {
	if tr, ok := t.on[sig.Key()]; ok {
		return tr, true
	}
	if tr, ok := t.on[string(sig.Type)]; ok {
		return tr, true
	}
	tr, ok := t.on[Wildcard]
	return tr, ok
}

func (t *table) transitions() []KeyedTransition {
	out := make([]KeyedTransition, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, KeyedTransition{Key: k, Transition: t.on[k]})
	}
	return out
}

// KeyedTransition is a transition table entry.
type KeyedTransition struct {
	Key        string
	Transition Transition
}

// TableState selects a transition by signal key.
type TableState struct {
	stateCore
	table
}

// Table creates a state with an empty transition table.
func Table(path string, opts ...StateOption) *TableState {
	return &TableState{stateCore: newCore(path, opts)}
}

func (*TableState) Kind() Kind { return KindTable }

// On maps a signal key (name, type or Wildcard) to t.
func (s *TableState) On(key string, t Transition) *TableState {
	s.set(key, t)
	return s
}

// Transitions returns the table entries in insertion order.
func (s *TableState) Transitions() []KeyedTransition { return s.transitions() }

// --- Choice ---

// GuardFunc decides a choice branch in Go.
type GuardFunc func(ctx context.Context, in Input) (bool, error)

// Branch is one guarded choice. A branch without guard always matches.
type Branch struct {
	Lang       string
	Expression string
	Func       GuardFunc
	Transition Transition
}

// Guarded reports whether the branch has a guard.
func (b Branch) Guarded() bool { return b.Expression != "" || b.Func != nil }

// ChoiceState evaluates its branches in order against each signal and takes
// the first that matches.
type ChoiceState struct {
	stateCore
	branches []Branch
}

// Choice creates a state without branches.
func Choice(path string, opts ...StateOption) *ChoiceState {
	return &ChoiceState{stateCore: newCore(path, opts)}
}

func (*ChoiceState) Kind() Kind { return KindChoice }

// When adds a branch guarded by a CEL expression.
func (s *ChoiceState) When(expression string, t Transition) *ChoiceState {
	return s.WhenLang("", expression, t)
}

// WhenLang adds a branch guarded by an expression in lang (cel, expr, jq).
func (s *ChoiceState) WhenLang(lang, expression string, t Transition) *ChoiceState {
	s.branches = append(s.branches, Branch{Lang: lang, Expression: expression, Transition: t})
	return s
}

// WhenFunc adds a branch guarded by fn.
func (s *ChoiceState) WhenFunc(fn GuardFunc, t Transition) *ChoiceState {
	s.branches = append(s.branches, Branch{Func: fn, Transition: t})
	return s
}

// Otherwise adds an unguarded branch.
func (s *ChoiceState) Otherwise(t Transition) *ChoiceState {
	s.branches = append(s.branches, Branch{Transition: t})
	return s
}

// Branches returns the branches in evaluation order.
func (s *ChoiceState) Branches() []Branch { return s.branches }

// --- Composite ---

// CompositeState owns the states nested under its path. Entering it enters
// its initial child; its own table applies to every descendant that has no
// matching transition.
type CompositeState struct {
	stateCore
	table
	initial string
}

// Composite creates a composite entering initial, a direct child path.
func Composite(path, initial string, opts ...StateOption) *CompositeState {
	return &CompositeState{stateCore: newCore(path, opts), initial: initial}
}

func (*CompositeState) Kind() Kind { return KindComposite }

// Initial returns the path of the initial child.
func (s *CompositeState) Initial() string { return s.initial }

// On maps a signal key to t for the whole composite.
func (s *CompositeState) On(key string, t Transition) *CompositeState {
	s.set(key, t)
	return s
}

// Transitions returns the table entries in insertion order.
func (s *CompositeState) Transitions() []KeyedTransition { return s.transitions() }

// --- Func ---

// SelectFunc computes the outgoing transition for a signal. Returning false
// means no transition was selected.
type SelectFunc func(ctx context.Context, in Input) (Transition, bool, error)

// FuncState delegates transition selection to a function. Diagrams cannot
// show its targets.
type FuncState struct {
	stateCore
	fn SelectFunc
}

// Func creates a state selecting transitions with fn.
func Func(path string, fn SelectFunc, opts ...StateOption) *FuncState {
	return &FuncState{stateCore: newCore(path, opts), fn: fn}
}

func (*FuncState) Kind() Kind { return KindFunc }

var (
	_ State = (*SinkState)(nil)
	_ State = (*ExceptionState)(nil)
	_ State = (*SingleState)(nil)
	_ State = (*TableState)(nil)
	_ State = (*ChoiceState)(nil)
	_ State = (*CompositeState)(nil)
	_ State = (*FuncState)(nil)
)

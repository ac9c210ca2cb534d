package schema

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ChartDefinition is the JSON/YAML-serializable state chart format.
type ChartDefinition struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Initial     string            `json:"initial" yaml:"initial"`
	States      []StateDefinition `json:"states" yaml:"states"`
	Finals      []string          `json:"finals" yaml:"finals"`
	Context     map[string]any    `json:"context,omitempty" yaml:"context,omitempty"`   // initial chart variables
	Signals     map[string]any    `json:"signals,omitempty" yaml:"signals,omitempty"`   // signal name -> JSON Schema of its payload
	Metadata    map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StateDefinition describes a single state. Kind selects which of the
// optional fields apply.
type StateDefinition struct {
	Path        string                          `json:"path" yaml:"path"`
	Kind        StateKind                       `json:"kind,omitempty" yaml:"kind,omitempty"` // default: table
	Description string                          `json:"description,omitempty" yaml:"description,omitempty"`
	On          map[string]TransitionDefinition `json:"on,omitempty" yaml:"on,omitempty"`           // table, composite
	Next        *TransitionDefinition           `json:"next,omitempty" yaml:"next,omitempty"`       // single
	Initial     string                          `json:"initial,omitempty" yaml:"initial,omitempty"` // composite
	Choices     []ChoiceDefinition              `json:"choices,omitempty" yaml:"choices,omitempty"` // choice
	Error       string                          `json:"error,omitempty" yaml:"error,omitempty"`     // exception
	OnEnter     []ActionRef                     `json:"on_enter,omitempty" yaml:"on_enter,omitempty"`
	OnExit      []ActionRef                     `json:"on_exit,omitempty" yaml:"on_exit,omitempty"`
}

// StateKind enumerates the kinds of states in a chart definition.
type StateKind string

const (
	StateKindTable     StateKind = "table"
	StateKindSingle    StateKind = "single"
	StateKindChoice    StateKind = "choice"
	StateKindComposite StateKind = "composite"
	StateKindSink      StateKind = "sink"
	StateKindException StateKind = "exception"
)

// StateKinds lists the kinds accepted in definitions.
var StateKinds = []StateKind{
	StateKindTable, StateKindSingle, StateKindChoice,
	StateKindComposite, StateKindSink, StateKindException,
}

// TransitionDefinition links a state to a target. An empty target is a stay.
// In documents a bare string is shorthand for {target: <string>}.
type TransitionDefinition struct {
	Target  string      `json:"target,omitempty" yaml:"target,omitempty"`
	Actions []ActionRef `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ChoiceDefinition is one guarded branch of a choice state. A branch without
// a guard always matches.
type ChoiceDefinition struct {
	When    string      `json:"when,omitempty" yaml:"when,omitempty"`
	Lang    string      `json:"lang,omitempty" yaml:"lang,omitempty"` // cel (default), expr, jq
	Target  string      `json:"target,omitempty" yaml:"target,omitempty"`
	Actions []ActionRef `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ActionRef names a registered action with its arguments. In documents a
// bare string is shorthand for {name: <string>}.
type ActionRef struct {
	Name string         `json:"name" yaml:"name"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// --- Shorthand decoding ---

func (t *TransitionDefinition) UnmarshalJSON(data []byte) error {
	var target string
	if err := json.Unmarshal(data, &target); err == nil {
		*t = TransitionDefinition{Target: target}
		return nil
	}
	type plain TransitionDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	*t = TransitionDefinition(p)
	return nil
}

func (t *TransitionDefinition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = TransitionDefinition{Target: value.Value}
		return nil
	}
	type plain TransitionDefinition
	var p plain
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("transition at line %d: %w", value.Line, err)
	}
	*t = TransitionDefinition(p)
	return nil
}

func (a *ActionRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = ActionRef{Name: name}
		return nil
	}
	type plain ActionRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	*a = ActionRef(p)
	return nil
}

func (a *ActionRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*a = ActionRef{Name: value.Value}
		return nil
	}
	type plain ActionRef
	var p plain
	if err := value.Decode(&p); err != nil {
		return fmt.Errorf("action at line %d: %w", value.Line, err)
	}
	*a = ActionRef(p)
	return nil
}

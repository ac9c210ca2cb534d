package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/pkg/schema"
)

type lookup map[string]bool

func (l lookup) Has(name string) bool { return l[name] }

type guardFunc func(lang, expression string) error

func (f guardFunc) CompileGuard(lang, expression string) error { return f(lang, expression) }

func doorChart() *schema.ChartDefinition {
	return &schema.ChartDefinition{
		Name:    "door",
		Initial: "closed",
		States: []schema.StateDefinition{
			{Path: "closed", On: map[string]schema.TransitionDefinition{"open": {Target: "opened"}}},
			{Path: "opened", On: map[string]schema.TransitionDefinition{
				"close": {Target: "closed", Actions: []schema.ActionRef{{Name: "log"}}},
				"break": {Target: "broken"},
				"lock":  {Target: "locked"},
			}},
			{Path: "locked", Kind: schema.StateKindComposite, Initial: "locked.engaged",
				On: map[string]schema.TransitionDefinition{"unlock": {Target: "closed"}}},
			{Path: "locked.engaged", On: map[string]schema.TransitionDefinition{"jiggle": {Target: "locked.rattling"}}},
			{Path: "locked.rattling", Kind: schema.StateKindChoice, Choices: []schema.ChoiceDefinition{
				{When: "signal.payload.force > 3", Target: "broken"},
				{Target: "locked.engaged"},
			}},
			{Path: "broken", Kind: schema.StateKindException, Error: "door broken"},
		},
		Finals: []string{"broken"},
	}
}

func newValidator(t *testing.T) *ChartValidator {
	t.Helper()
	v, err := NewChartValidator(lookup{"log": true, "set": true}, guardFunc(func(lang, expr string) error {
		if strings.Contains(expr, "!!") {
			return errors.New("syntax error")
		}
		return nil
	}))
	require.NoError(t, err)
	return v
}

func errorMessages(r *schema.DefinitionReport) string {
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "\n")
}

// --- Structural ---

func TestValidate_ValidChart(t *testing.T) {
	r := newValidator(t).Validate(doorChart())
	assert.True(t, r.OK(), errorMessages(r))
	assert.Empty(t, r.Warnings)
}

func TestValidate_Nil(t *testing.T) {
	r := newValidator(t).Validate(nil)
	assert.False(t, r.OK())
}

func TestValidateDocument_UnknownKey(t *testing.T) {
	doc := map[string]any{
		"name": "x", "initial": "a", "finals": []any{"b"},
		"states": []any{
			map[string]any{"path": "a", "on": map[string]any{"go": "b"}, "colour": "red"},
			map[string]any{"path": "b", "kind": "sink"},
		},
	}
	err := newValidator(t).ValidateDocument(doc)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestValidateDocument_ShorthandForms(t *testing.T) {
	doc := map[string]any{
		"name": "x", "initial": "a", "finals": []any{"b"},
		"states": []any{
			map[string]any{
				"path":     "a",
				"on":       map[string]any{"go": "b", "stay": map[string]any{"actions": []any{"log"}}},
				"on_enter": []any{"log", map[string]any{"name": "set", "args": map[string]any{"var": "n", "value": 1}}},
			},
			map[string]any{"path": "b", "kind": "sink"},
		},
	}
	assert.NoError(t, newValidator(t).ValidateDocument(doc))
}

func TestValidate_MissingFinals(t *testing.T) {
	def := doorChart()
	def.Finals = nil
	r := newValidator(t).Validate(def)
	assert.False(t, r.OK())
}

func TestValidate_BadPath(t *testing.T) {
	def := doorChart()
	def.States[0].Path = "closed..bad"
	r := newValidator(t).Validate(def)
	assert.False(t, r.OK())
}

// --- Semantic ---

func TestValidate_SemanticErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(def *schema.ChartDefinition)
		want   string
	}{
		{"duplicate path", func(d *schema.ChartDefinition) {
			d.States = append(d.States, schema.StateDefinition{Path: "closed", Kind: schema.StateKindSink})
		}, "duplicate state path"},
		{"unknown target", func(d *schema.ChartDefinition) {
			d.States[0].On["open"] = schema.TransitionDefinition{Target: "ajar"}
		}, `transition target "ajar" is not defined`},
		{"unknown initial", func(d *schema.ChartDefinition) { d.Initial = "nowhere" }, "initial state"},
		{"initial is final", func(d *schema.ChartDefinition) { d.Initial = "broken" }, "is a final state"},
		{"unknown final", func(d *schema.ChartDefinition) { d.Finals = []string{"gone"} }, "final state \"gone\""},
		{"composite final", func(d *schema.ChartDefinition) { d.Finals = append(d.Finals, "locked") }, "is a composite"},
		{"orphan child", func(d *schema.ChartDefinition) {
			d.States = append(d.States, schema.StateDefinition{Path: "attic.box", Kind: schema.StateKindSink})
		}, "nested under undefined state"},
		{"child of non-composite", func(d *schema.ChartDefinition) {
			d.States = append(d.States, schema.StateDefinition{Path: "opened.wide", Kind: schema.StateKindSink})
		}, "not a composite"},
		{"composite initial not a child", func(d *schema.ChartDefinition) { d.States[2].Initial = "closed" }, "not a direct child"},
		{"unregistered action", func(d *schema.ChartDefinition) {
			d.States[0].OnEnter = []schema.ActionRef{{Name: "beep"}}
		}, `action "beep" not registered`},
		{"bad guard", func(d *schema.ChartDefinition) { d.States[4].Choices[0].When = "!!" }, "syntax error"},
		{"single without next", func(d *schema.ChartDefinition) {
			d.States = append(d.States, schema.StateDefinition{Path: "hop", Kind: schema.StateKindSingle})
		}, "requires next"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := doorChart()
			tt.mutate(def)
			r := newValidator(t).Validate(def)
			require.False(t, r.OK())
			assert.Contains(t, errorMessages(r), tt.want)

			err := r.Err()
			assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
		})
	}
}

func TestValidate_IssuesNameTheirState(t *testing.T) {
	def := doorChart()
	def.States[2].On["unlock"] = schema.TransitionDefinition{Target: "ajar"}
	def.States[0].OnEnter = []schema.ActionRef{{Name: "beep"}}
	def.Initial = "nowhere"

	r := newValidator(t).Validate(def)
	require.False(t, r.OK())
	assert.Equal(t, "door", r.Chart)

	locked := r.ForState("locked")
	require.Len(t, locked, 1)
	assert.Equal(t, "states[2].on[unlock]", locked[0].Field)
	assert.Equal(t, schema.ErrCodeNotFound, locked[0].Code)

	closed := r.ForState("closed")
	require.Len(t, closed, 1)
	assert.Equal(t, "states[0].on_enter[0]", closed[0].Field)

	require.Len(t, r.ForState("nowhere"), 1)
	assert.Contains(t, r.Err().Error(), "chart door rejected")
}

func TestValidate_Warnings(t *testing.T) {
	def := doorChart()
	def.States = append(def.States,
		schema.StateDefinition{Path: "attic", Kind: schema.StateKindSink},
		schema.StateDefinition{Path: "void", On: nil},
	)
	def.States[4].Choices = append([]schema.ChoiceDefinition{{Target: "broken"}}, def.States[4].Choices...)

	r := newValidator(t).Validate(def)
	require.True(t, r.OK(), errorMessages(r))

	var msgs []string
	for _, w := range r.Warnings {
		msgs = append(msgs, w.Message)
	}
	all := strings.Join(msgs, "\n")
	assert.Contains(t, all, `sink state "attic" is not final`)
	assert.Contains(t, all, `state "attic" is unreachable`)
	assert.Contains(t, all, `state "void" has no transitions`)
	assert.Contains(t, all, "unguarded choice shadows")
}

// --- Reachability ---

func TestValidateReachability_NoFinalReachable(t *testing.T) {
	def := &schema.ChartDefinition{
		Name:    "loop",
		Initial: "a",
		States: []schema.StateDefinition{
			{Path: "a", On: map[string]schema.TransitionDefinition{"x": {Target: "b"}}},
			{Path: "b", On: map[string]schema.TransitionDefinition{"x": {Target: "a"}}},
			{Path: "end", Kind: schema.StateKindSink},
		},
		Finals: []string{"end"},
	}
	r := validateReachability(def)
	require.Len(t, r.Warnings, 2)
	assert.Equal(t, "end", r.Warnings[0].State)
	assert.Empty(t, r.Warnings[1].State)
	assert.Contains(t, r.Warnings[1].Message, "no final state is reachable")
}

func TestValidateReachability_InheritedTransitions(t *testing.T) {
	r := validateReachability(doorChart())
	assert.Empty(t, r.Warnings, "locked.engaged inherits unlock from locked")
}

// --- Payloads ---

func TestValidatePayload(t *testing.T) {
	v := newValidator(t)
	payloadSchema := map[string]any{
		"type":     "object",
		"required": []any{"force"},
		"properties": map[string]any{
			"force": map[string]any{"type": "integer", "minimum": 0},
		},
	}

	assert.NoError(t, v.ValidatePayload(map[string]any{"force": 3}, payloadSchema))
	assert.Error(t, v.ValidatePayload(map[string]any{"force": -1}, payloadSchema))
	assert.Error(t, v.ValidatePayload(nil, payloadSchema))
	assert.NoError(t, v.ValidatePayload(nil, nil))

	_, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	err = v.ValidatePayload(map[string]any{}, map[string]any{"type": 12})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

package statechart

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/rendis/asyncflow/internal/expressions"
	"github.com/rendis/asyncflow/internal/validation"
	"github.com/rendis/asyncflow/pkg/schema"
)

// LoadDefinition decodes a JSON or YAML chart definition. The raw document
// is checked against the chart schema before decoding, so unknown keys are
// rejected.
func LoadDefinition(data []byte) (*schema.ChartDefinition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "chart definition is not valid YAML or JSON").WithCause(err)
	}
	jsv, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	if err := jsv.ValidateDocument(doc); err != nil {
		return nil, err
	}

	var def schema.ChartDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode chart definition").WithCause(err)
	}
	return &def, nil
}

// ReadDefinition loads a chart definition from a file.
func ReadDefinition(path string) (*schema.ChartDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chart definition: %w", err)
	}
	return LoadDefinition(data)
}

type guardCompiler struct {
	exprs *expressions.Registry
}

func (g guardCompiler) CompileGuard(lang, expression string) error {
	return g.exprs.Compile(lang, expression)
}

// Compile validates def and builds a chart from it. Action references are
// resolved in actions; a nil registry holds the builtins only. opts are
// applied after the options derived from the definition.
func Compile(def *schema.ChartDefinition, actions *ActionRegistry, opts ...Option) (*Chart, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "chart definition is nil")
	}
	if actions == nil {
		actions = NewActionRegistry()
	}
	exprs, err := expressions.NewRegistry()
	if err != nil {
		return nil, err
	}

	validator, err := validation.NewChartValidator(actions, guardCompiler{exprs: exprs})
	if err != nil {
		return nil, err
	}
	result := validator.Validate(def)
	if err := result.Err(); err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		slog.Warn("chart definition warning",
			slog.String("chart", def.Name), slog.String("field", w.Field),
			slog.String("state", w.State), slog.String("message", w.Message))
	}

	b := NewBuilder(def.Name).Initial(def.Initial).Final(def.Finals...)
	for i := range def.States {
		s, err := compileState(&def.States[i], actions)
		if err != nil {
			return nil, err
		}
		b.Add(s)
	}

	b.With(WithVariables(def.Context), WithExpressions(exprs))
	if len(def.Signals) > 0 {
		b.With(WithSignalSchemas(validator, def.Signals))
	}
	b.With(opts...)
	return b.Build()
}

func compileState(sd *schema.StateDefinition, actions *ActionRegistry) (State, error) {
	var opts []StateOption
	enter, err := actions.BuildAll(sd.OnEnter)
	if err != nil {
		return nil, err
	}
	if enter != nil {
		opts = append(opts, OnEnter(enter))
	}
	exit, err := actions.BuildAll(sd.OnExit)
	if err != nil {
		return nil, err
	}
	if exit != nil {
		opts = append(opts, OnExit(exit))
	}
	if sd.Description != "" {
		opts = append(opts, Describe(sd.Description))
	}

	transition := func(td schema.TransitionDefinition) (Transition, error) {
		if td.Target == "" {
			return Stay(), nil
		}
		a, err := actions.BuildAll(td.Actions)
		if err != nil {
			return Transition{}, err
		}
		return To(td.Target).With(a), nil
	}

	kind := sd.Kind
	if kind == "" {
		kind = schema.StateKindTable
	}

	switch kind {
	case schema.StateKindTable, schema.StateKindComposite:
		var on []KeyedTransition
		for _, key := range sortedKeys(sd.On) {
			t, err := transition(sd.On[key])
			if err != nil {
				return nil, err
			}
			on = append(on, KeyedTransition{Key: key, Transition: t})
		}
		if kind == schema.StateKindTable {
			s := Table(sd.Path, opts...)
			for _, kt := range on {
				s.On(kt.Key, kt.Transition)
			}
			return s, nil
		}
		s := Composite(sd.Path, sd.Initial, opts...)
		for _, kt := range on {
			s.On(kt.Key, kt.Transition)
		}
		return s, nil

	case schema.StateKindSingle:
		if sd.Next == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "single state %q requires next", sd.Path)
		}
		t, err := transition(*sd.Next)
		if err != nil {
			return nil, err
		}
		return Single(sd.Path, t, opts...), nil

	case schema.StateKindChoice:
		s := Choice(sd.Path, opts...)
		for _, cd := range sd.Choices {
			t, err := transition(schema.TransitionDefinition{Target: cd.Target, Actions: cd.Actions})
			if err != nil {
				return nil, err
			}
			if cd.When == "" {
				s.Otherwise(t)
			} else {
				s.WhenLang(cd.Lang, cd.When, t)
			}
		}
		return s, nil

	case schema.StateKindSink:
		return Sink(sd.Path, opts...), nil

	case schema.StateKindException:
		msg := sd.Error
		if msg == "" {
			msg = fmt.Sprintf("chart reached exception state %q", sd.Path)
		}
		cause := schema.NewError(schema.ErrCodeExecution, msg).WithDetails(map[string]any{"state": sd.Path})
		return Exception(sd.Path, cause, opts...), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "state %q has unknown kind %q", sd.Path, kind)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

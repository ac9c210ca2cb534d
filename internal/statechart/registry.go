package statechart

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/asyncflow/internal/expressions"
	"github.com/rendis/asyncflow/pkg/schema"
)

// ActionFactory builds an action from the arguments of a definition
// reference. Argument errors are reported at compile time.
type ActionFactory func(args map[string]any) (Action, error)

// ActionRegistry maps action names used in chart definitions to factories.
// It is safe for concurrent use.
type ActionRegistry struct {
	mu        sync.RWMutex
	factories map[string]ActionFactory
}

// NewActionRegistry creates a registry holding the builtin actions:
// log, set, unset, raise, assert and fail.
func NewActionRegistry() *ActionRegistry {
	r := &ActionRegistry{factories: make(map[string]ActionFactory)}
	for name, f := range builtins() {
		r.factories[name] = f
	}
	return r
}

// Register adds a factory. Returns error on duplicate name.
func (r *ActionRegistry) Register(name string, f ActionFactory) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "action name is empty")
	}
	if f == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %q has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// RegisterFunc registers an action that takes no arguments.
func (r *ActionRegistry) RegisterFunc(name string, a Action) error {
	return r.Register(name, func(map[string]any) (Action, error) { return a, nil })
}

// Has checks if an action is registered.
func (r *ActionRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered action names, sorted.
func (r *ActionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build creates the action referenced by ref.
func (r *ActionRegistry) Build(ref schema.ActionRef) (Action, error) {
	r.mu.RLock()
	f, ok := r.factories[ref.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", ref.Name)
	}
	a, err := f(ref.Args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "action %q: %s", ref.Name, err.Error()).WithCause(err)
	}
	return a, nil
}

// BuildAll creates the actions referenced by refs chained in order. Returns
// nil for no references.
func (r *ActionRegistry) BuildAll(refs []schema.ActionRef) (Action, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	actions := make([]Action, 0, len(refs))
	for _, ref := range refs {
		a, err := r.Build(ref)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if len(actions) == 1 {
		return actions[0], nil
	}
	return Chain(actions...), nil
}

// --- Builtins ---

func builtins() map[string]ActionFactory {
	return map[string]ActionFactory{
		"log":    logAction,
		"set":    setAction,
		"unset":  unsetAction,
		"raise":  raiseAction,
		"assert": assertAction,
		"fail":   failAction,
	}
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok {
		if required {
			return "", fmt.Errorf("requires %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || (required && s == "") {
		return "", fmt.Errorf("%q must be a non-empty string", key)
	}
	return s, nil
}

// log: {message, level}. The message may reference ${{signal...}},
// ${{context...}} and ${{state}}.
func logAction(args map[string]any) (Action, error) {
	msg, err := stringArg(args, "message", false)
	if err != nil {
		return nil, err
	}
	levelName, err := stringArg(args, "level", false)
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(levelName))); levelName != "" && err != nil {
		return nil, fmt.Errorf("unknown level %q", levelName)
	}

	return func(ctx context.Context, in Input) error {
		text := msg
		if text == "" {
			text = "signal " + in.Signal.String()
		}
		if expressions.HasInterpolation(text) {
			out, err := expressions.Interpolate(text, in.Env())
			if err != nil {
				return err
			}
			text = out
		}
		in.Logger().Log(ctx, level, text, slog.String("signal", in.Signal.String()))
		return nil
	}, nil
}

// set: {var, value} or {var, from, lang}. from is evaluated with jq unless
// lang says otherwise.
func setAction(args map[string]any) (Action, error) {
	name, err := stringArg(args, "var", true)
	if err != nil {
		return nil, err
	}
	from, err := stringArg(args, "from", false)
	if err != nil {
		return nil, err
	}
	lang, err := stringArg(args, "lang", false)
	if err != nil {
		return nil, err
	}
	value, hasValue := args["value"]
	if from == "" && !hasValue {
		return nil, fmt.Errorf(`requires "value" or "from"`)
	}
	if lang == "" {
		lang = expressions.LangJQ
	}

	return func(ctx context.Context, in Input) error {
		if from == "" {
			in.Scope.Set(name, value)
			return nil
		}
		out, err := in.Eval(ctx, lang, from)
		if err != nil {
			return err
		}
		in.Scope.Set(name, out)
		return nil
	}, nil
}

// unset: {var}.
func unsetAction(args map[string]any) (Action, error) {
	name, err := stringArg(args, "var", true)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, in Input) error {
		in.Scope.Delete(name)
		return nil
	}, nil
}

// raise: {signal, payload}. The signal is handled after the current
// traversal.
func raiseAction(args map[string]any) (Action, error) {
	name, err := stringArg(args, "signal", true)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if p, ok := args["payload"]; ok {
		m, ok := p.(map[string]any)
		if !ok {
			return nil, fmt.Errorf(`"payload" must be an object`)
		}
		payload = m
	}
	return func(_ context.Context, in Input) error {
		in.Raise(schema.Named(name, payload))
		return nil
	}, nil
}

// assert: {expr, lang, message}. A falsy result fails the chart.
func assertAction(args map[string]any) (Action, error) {
	expression, err := stringArg(args, "expr", true)
	if err != nil {
		return nil, err
	}
	lang, err := stringArg(args, "lang", false)
	if err != nil {
		return nil, err
	}
	msg, err := stringArg(args, "message", false)
	if err != nil {
		return nil, err
	}
	if msg == "" {
		msg = fmt.Sprintf("assertion failed: %s", expression)
	}
	return func(ctx context.Context, in Input) error {
		ok, err := in.Test(ctx, lang, expression)
		if err != nil {
			return err
		}
		if !ok {
			return schema.NewError(schema.ErrCodeSignalFailed, msg).
				WithDetails(map[string]any{"expression": expression, "state": in.State})
		}
		return nil
	}, nil
}

// fail: {message}.
func failAction(args map[string]any) (Action, error) {
	msg, err := stringArg(args, "message", false)
	if err != nil {
		return nil, err
	}
	if msg == "" {
		msg = "fail action"
	}
	return func(_ context.Context, in Input) error {
		return schema.NewError(schema.ErrCodeSignalFailed, msg).
			WithDetails(map[string]any{"state": in.State, "signal": in.Signal.Key()})
	}, nil
}

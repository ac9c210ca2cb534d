package statechart

import (
	"fmt"
	"strings"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/expressions"
	"github.com/rendis/asyncflow/internal/guard"
	"github.com/rendis/asyncflow/pkg/schema"
)

type config struct {
	exec     []async.Option
	vars     map[string]any
	exprs    *expressions.Registry
	payloads PayloadValidator
	signals  map[string]any
	observer Observer
}

// Option configures a chart.
type Option func(*config)

// WithExecutionOptions passes options to the underlying execution.
func WithExecutionOptions(opts ...async.Option) Option {
	return func(c *config) { c.exec = append(c.exec, opts...) }
}

// WithVariables seeds the chart scope.
func WithVariables(vars map[string]any) Option {
	return func(c *config) { c.vars = vars }
}

// WithExpressions sets the expression registry used by choice guards and
// actions. Charts create their own registry when none is given.
func WithExpressions(r *expressions.Registry) Option {
	return func(c *config) { c.exprs = r }
}

// WithSignalSchemas validates the payload of signals named in schemas
// against the JSON Schema stored under their key. Signals with an invalid
// payload are ignored.
func WithSignalSchemas(v PayloadValidator, schemas map[string]any) Option {
	return func(c *config) {
		c.payloads = v
		c.signals = schemas
	}
}

// WithObserver registers an observer for chart events.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// Builder assembles a chart from states.
type Builder struct {
	name    string
	states  []State
	initial string
	finals  []string
	opts    []Option
}

// NewBuilder creates a builder for a chart called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Add registers states. Nested paths require their composite parent to be
// added as well, in any order.
func (b *Builder) Add(states ...State) *Builder {
	b.states = append(b.states, states...)
	return b
}

// Initial sets the initial state path.
func (b *Builder) Initial(path string) *Builder {
	b.initial = path
	return b
}

// Final marks states as final.
func (b *Builder) Final(paths ...string) *Builder {
	b.finals = append(b.finals, paths...)
	return b
}

// With appends chart options.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build checks the structure and creates the chart. Missing final states and
// an unusable initial state are reported by Start.
func (b *Builder) Build() (*Chart, error) {
	var cfg config
	for _, opt := range b.opts {
		opt(&cfg)
	}

	states := make(map[string]State, len(b.states))
	order := make([]string, 0, len(b.states))
	for _, s := range b.states {
		if s == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "nil state")
		}
		p := s.Path()
		if err := checkPath(p); err != nil {
			return nil, err
		}
		if _, dup := states[p]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate state path %q", p)
		}
		states[p] = s
		order = append(order, p)
	}

	exprs := cfg.exprs
	if exprs == nil {
		var err error
		if exprs, err = expressions.NewRegistry(); err != nil {
			return nil, err
		}
	}

	for _, p := range order {
		if err := checkState(states[p], states, exprs); err != nil {
			return nil, err
		}
	}

	finals := make(map[string]bool, len(b.finals))
	for _, f := range b.finals {
		s, ok := states[f]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "final state %q is not registered", f)
		}
		if s.Kind() == KindComposite {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "final state %q is a composite", f)
		}
		finals[f] = true
	}

	c := &Chart{
		name:     b.name,
		states:   states,
		order:    order,
		initial:  b.initial,
		finals:   finals,
		scope:    expressions.NewScope(cfg.vars),
		exprs:    exprs,
		payloads: cfg.payloads,
		signals:  cfg.signals,
		observer: cfg.observer,
		g:        guard.New(),
	}
	exec := cfg.exec
	if b.name != "" {
		exec = append([]async.Option{async.WithName(b.name)}, exec...)
	}
	c.Machine = async.NewMachine[string](c, exec...)
	return c, nil
}

func checkPath(p string) error {
	if p == "" {
		return schema.NewError(schema.ErrCodeValidation, "state path is empty")
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "state path %q has an empty segment", p)
		}
	}
	return nil
}

func checkState(s State, states map[string]State, exprs *expressions.Registry) error {
	p := s.Path()
	if parent := Parent(p); parent != "" {
		owner, ok := states[parent]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "state %q is nested under unregistered state %q", p, parent)
		}
		if owner.Kind() != KindComposite {
			return schema.NewErrorf(schema.ErrCodeValidation, "state %q is nested under %q, which is not a composite", p, parent)
		}
	}

	target := func(where string, t Transition) error {
		if t.IsStay() {
			return nil
		}
		if _, ok := states[t.target]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "state %q: %s targets unregistered state %q", p, where, t.target)
		}
		return nil
	}

	switch st := s.(type) {
	case *SingleState:
		return target("next", st.next)
	case *TableState:
		for _, kt := range st.transitions() {
			if err := target(fmt.Sprintf("on[%s]", kt.Key), kt.Transition); err != nil {
				return err
			}
		}
	case *CompositeState:
		if Parent(st.initial) != p {
			return schema.NewErrorf(schema.ErrCodeValidation, "composite %q: initial %q is not a direct child", p, st.initial)
		}
		if _, ok := states[st.initial]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "composite %q: initial %q is not registered", p, st.initial)
		}
		for _, kt := range st.transitions() {
			if err := target(fmt.Sprintf("on[%s]", kt.Key), kt.Transition); err != nil {
				return err
			}
		}
	case *ChoiceState:
		if len(st.branches) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "choice %q has no branches", p)
		}
		for i, br := range st.branches {
			if err := target(fmt.Sprintf("branch %d", i), br.Transition); err != nil {
				return err
			}
			if br.Expression != "" {
				if err := exprs.Compile(br.Lang, br.Expression); err != nil {
					return schema.NewErrorf(schema.ErrCodeValidation, "choice %q branch %d: %s", p, i, err.Error()).WithCause(err)
				}
			}
		}
	case *FuncState:
		if st.fn == nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "func state %q has no select function", p)
		}
	}
	return nil
}

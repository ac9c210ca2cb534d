package statechart

import (
	"context"
	"log/slog"

	"github.com/rendis/asyncflow/internal/expressions"
	"github.com/rendis/asyncflow/pkg/schema"
)

// Action is a side effect run on state entry, state exit or during a
// transition. A returned error fails the chart.
type Action func(ctx context.Context, in Input) error

// Input is what an action sees of the chart while it runs.
type Input struct {
	// Signal that triggered the traversal. Entering the initial state on
	// start uses a custom signal named "start".
	Signal schema.Signal
	// State is the path of the state being entered or exited, or the source
	// state of a transition.
	State string
	// Scope holds the chart variables.
	Scope *expressions.Scope

	chart *Chart
}

// Env returns the expression environment {signal, context, state}.
func (in Input) Env() map[string]any {
	return in.Scope.Env(in.Signal, in.State)
}

// Eval evaluates expression in lang against Env.
func (in Input) Eval(ctx context.Context, lang, expression string) (any, error) {
	e, err := in.chart.exprs.Get(lang)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, expression, in.Env())
}

// Test evaluates expression in lang against Env and reports whether the
// result is truthy.
func (in Input) Test(ctx context.Context, lang, expression string) (bool, error) {
	return in.chart.exprs.Test(ctx, lang, expression, in.Env())
}

// Raise queues sig for the chart. It is handled after the current traversal
// completes.
func (in Input) Raise(sig schema.Signal) {
	in.chart.raise(sig)
}

// Logger returns the chart logger enriched with the state path.
func (in Input) Logger() *slog.Logger {
	return in.chart.Logger().With(slog.String("state", in.State))
}

// Chain runs actions in order and stops at the first error.
func Chain(actions ...Action) Action {
	return func(ctx context.Context, in Input) error {
		for _, a := range actions {
			if a == nil {
				continue
			}
			if err := a(ctx, in); err != nil {
				return err
			}
		}
		return nil
	}
}

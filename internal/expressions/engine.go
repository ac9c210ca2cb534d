package expressions

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/rendis/asyncflow/pkg/schema"
)

// Engine evaluates guard expressions against a signal environment.
// Three implementations: CEL (default), Expr (logic), GoJQ (payload transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Supported languages.
const (
	LangCEL  = "cel"
	LangExpr = "expr"
	LangJQ   = "jq"
)

// Registry holds one engine per language. Engines cache compiled programs,
// so a chart should share a single Registry.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates a Registry with the CEL, Expr and GoJQ engines.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Registry{
		engines: map[string]Engine{
			LangCEL:  celEngine,
			LangExpr: NewExprEngine(),
			LangJQ:   NewGoJQEngine(),
		},
	}, nil
}

// Get returns the engine for lang. An empty lang selects CEL.
func (r *Registry) Get(lang string) (Engine, error) {
	if lang == "" {
		lang = LangCEL
	}
	e, ok := r.engines[lang]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang).
			WithDetails(map[string]any{"lang": lang, "available": []string{LangCEL, LangExpr, LangJQ}})
	}
	return e, nil
}

// Test evaluates expression with the engine for lang and reports whether the
// result is truthy.
func (r *Registry) Test(ctx context.Context, lang, expression string, data map[string]any) (bool, error) {
	e, err := r.Get(lang)
	if err != nil {
		return false, err
	}
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}

type compiler interface {
	Compile(expression string) error
}

// Compile checks expression with the engine for lang without evaluating it.
func (r *Registry) Compile(lang, expression string) error {
	e, err := r.Get(lang)
	if err != nil {
		return err
	}
	if c, ok := e.(compiler); ok {
		return c.Compile(expression)
	}
	return nil
}

// Truthy follows jq semantics extended to Go values: nil, false, zero numbers,
// empty strings and empty collections are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return fmt.Sprint(val) != ""
	}
}

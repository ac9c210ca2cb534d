package validation

import "github.com/rendis/asyncflow/pkg/schema"

// ChartValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (paths, nesting, targets, actions, guards)
// 3. Reachability (states and finals reachable from the initial state)
type ChartValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
	guards     GuardCompiler
}

// NewChartValidator creates a ChartValidator. actions and guards may be nil to
// skip action existence and guard compilation checks.
func NewChartValidator(actions ActionLookup, guards GuardCompiler) (*ChartValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ChartValidator{
		jsonSchema: jsv,
		actions:    actions,
		guards:     guards,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and reachability stages are skipped.
func (cv *ChartValidator) Validate(def *schema.ChartDefinition) *schema.DefinitionReport {
	if def == nil {
		r := schema.NewDefinitionReport("")
		r.Reject("", "/", schema.ErrCodeValidation, "chart definition is nil")
		return r
	}

	// Stage 1: Structural (JSON Schema).
	result := structural(def.Name, cv.jsonSchema.ValidateDefinition(def))
	if !result.OK() {
		return result
	}

	// Stage 2: Semantic.
	result.Include(validateSemantic(def, cv.actions, cv.guards))

	// Stage 3: Reachability (skip if semantic errors, the graph may be invalid).
	if result.OK() {
		result.Include(validateReachability(def))
	}

	return result
}

// ValidateDocument checks a raw decoded document against the chart schema.
func (cv *ChartValidator) ValidateDocument(doc any) error {
	return cv.jsonSchema.ValidateDocument(doc)
}

// ValidateDefinition satisfies the Validator interface.
func (cv *ChartValidator) ValidateDefinition(def *schema.ChartDefinition) error {
	return cv.Validate(def).Err()
}

// ValidatePayload delegates to the underlying JSONSchemaValidator.
func (cv *ChartValidator) ValidatePayload(payload map[string]any, payloadSchema any) error {
	return cv.jsonSchema.ValidatePayload(payload, payloadSchema)
}

// structural converts a schema validation error into a report on chart.
func structural(chart string, err error) *schema.DefinitionReport {
	result := schema.NewDefinitionReport(chart)
	if err == nil {
		return result
	}

	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.Reject("", "/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if fe.Details != nil {
		if violations, ok := fe.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.Reject("", "/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.Reject("", "/", schema.ErrCodeValidation, fe.Message)
	return result
}

var _ Validator = (*ChartValidator)(nil)

package validation

import "github.com/rendis/asyncflow/pkg/schema"

// Validator checks chart definitions for correctness before compilation.
// Uses JSON Schema Draft 2020-12 for documents and signal payloads.
type Validator interface {
	ValidateDocument(doc any) error
	ValidateDefinition(def *schema.ChartDefinition) error
	ValidatePayload(payload map[string]any, payloadSchema any) error
}

// ActionLookup reports whether an action name is registered.
type ActionLookup interface {
	Has(name string) bool
}

// GuardCompiler checks a guard expression in the given language.
type GuardCompiler interface {
	CompileGuard(lang, expression string) error
}

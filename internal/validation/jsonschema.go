package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/asyncflow/pkg/schema"
)

// chartSchemaJSON is the JSON Schema for ChartDefinition documents.
// Embedded as a constant to avoid filesystem dependencies.
const chartSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://asyncflow.dev/schemas/chart.json",
  "type": "object",
  "required": ["name", "initial", "states", "finals"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "initial": { "$ref": "#/$defs/path" },
    "states": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/state" }
    },
    "finals": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/path" }
    },
    "context": { "type": "object" },
    "signals": {
      "type": "object",
      "additionalProperties": { "type": ["object", "boolean"] }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "path": {
      "type": "string",
      "pattern": "^[A-Za-z0-9_-]+(\\.[A-Za-z0-9_-]+)*$"
    },
    "state": {
      "type": "object",
      "required": ["path"],
      "properties": {
        "path": { "$ref": "#/$defs/path" },
        "kind": {
          "type": "string",
          "enum": ["table", "single", "choice", "composite", "sink", "exception"]
        },
        "description": { "type": "string" },
        "on": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/transition" }
        },
        "next": { "$ref": "#/$defs/transition" },
        "initial": { "$ref": "#/$defs/path" },
        "choices": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/choice" }
        },
        "error": { "type": "string" },
        "on_enter": { "$ref": "#/$defs/actions" },
        "on_exit": { "$ref": "#/$defs/actions" }
      },
      "additionalProperties": false
    },
    "transition": {
      "oneOf": [
        { "type": "string" },
        {
          "type": "object",
          "properties": {
            "target": { "type": "string" },
            "actions": { "$ref": "#/$defs/actions" }
          },
          "additionalProperties": false
        }
      ]
    },
    "choice": {
      "type": "object",
      "properties": {
        "when": { "type": "string" },
        "lang": { "type": "string", "enum": ["cel", "expr", "jq"] },
        "target": { "type": "string" },
        "actions": { "$ref": "#/$defs/actions" }
      },
      "additionalProperties": false
    },
    "actions": {
      "type": "array",
      "items": {
        "oneOf": [
          { "type": "string", "minLength": 1 },
          {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": { "type": "string", "minLength": 1 },
              "args": { "type": "object" }
            },
            "additionalProperties": false
          }
        ]
      }
    }
  }
}`

const chartSchemaURL = "https://asyncflow.dev/schemas/chart.json"

// JSONSchemaValidator validates chart documents and signal payloads using
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	chartSchema *jsonschema.Schema

	// mu guards the cache of compiled payload schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a new JSONSchemaValidator with the chart schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(chartSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal chart schema: %w", err)
	}
	if err := c.AddResource(chartSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add chart schema resource: %w", err)
	}

	chartSchema, err := c.Compile(chartSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile chart schema: %w", err)
	}

	return &JSONSchemaValidator{
		chartSchema: chartSchema,
		cache:       make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a decoded JSON or YAML document against the
// chart schema. Use it on the raw document so that unknown keys are caught
// before decoding drops them.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "chart document is empty")
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize chart document").WithCause(err)
	}
	if err := v.chartSchema.Validate(value); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateDefinition validates a typed ChartDefinition against the chart schema.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.ChartDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "chart definition is nil")
	}
	return v.ValidateDocument(def)
}

// ValidatePayload validates a signal payload against a JSON Schema given as a
// decoded document. Compiled schemas are cached by their JSON encoding.
func (v *JSONSchemaValidator) ValidatePayload(payload map[string]any, payloadSchema any) error {
	if payloadSchema == nil {
		return nil
	}
	compiled, err := v.getOrCompile(payloadSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid payload schema").WithCause(err)
	}

	if payload == nil {
		payload = map[string]any{}
	}
	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize payload").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) getOrCompile(payloadSchema any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(payloadSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each payload schema gets a unique URL and a fresh compiler to avoid
	// resource collisions.
	url := fmt.Sprintf("asyncflow://payload-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// every leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

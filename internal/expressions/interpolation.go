package expressions

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/rendis/asyncflow/pkg/schema"
)

// namespaces addressable from a template.
var namespaces = []string{"signal", "context", "state"}

// Interpolate resolves ${{...}} references in tmpl against env, as built by
// Scope.Env. References are dot paths rooted at signal, context or state,
// e.g. "${{signal.payload.user}} entered ${{state}}".
func Interpolate(tmpl string, env map[string]any) (string, error) {
	var result strings.Builder
	result.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], "${{")
		if idx == -1 {
			result.WriteString(tmpl[i:])
			break
		}

		result.WriteString(tmpl[i : i+idx])
		start := i + idx + 3

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(tmpl[start:end])
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{  }}")
		}

		val, err := resolveRef(ref, env)
		if err != nil {
			return "", err
		}
		result.WriteString(marshalInline(val))

		i = end + 2
	}

	return result.String(), nil
}

// HasInterpolation reports whether s contains any ${{...}} reference.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}

func resolveRef(ref string, env map[string]any) (any, error) {
	namespace, rest, _ := strings.Cut(ref, ".")
	if !slices.Contains(namespaces, namespace) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(namespaces, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": namespaces})
	}
	root, ok := env[namespace]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "%s scope is empty in ${{%s}}", namespace, ref).
			WithDetails(map[string]any{"expression": ref})
	}
	if rest == "" {
		return root, nil
	}
	return traversePath(root, rest, ref)
}

// traversePath navigates into nested maps using a dot-delimited path.
func traversePath(root any, path, ref string) (any, error) {
	current := root
	for i, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"empty segment in path %q at position %d", ref, i).
				WithDetails(map[string]any{"expression": ref})
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current).
				WithDetails(map[string]any{"expression": ref})
		}
		val, ok := m[seg]
		if !ok {
			available := slices.Sorted(maps.Keys(m))
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"field %q not found in %q; available: [%s]", seg, ref, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": ref, "available_fields": available})
		}
		current = val
	}
	return current, nil
}

// marshalInline renders a resolved value for embedding in text. Strings are
// written verbatim, containers as JSON.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

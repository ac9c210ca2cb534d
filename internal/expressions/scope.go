package expressions

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/rendis/asyncflow/pkg/schema"
)

// Scope holds the variables of a running chart. Values are deep-copied on
// the way in and on the way out, so expressions and actions never share
// mutable state with callers.
type Scope struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewScope creates a Scope seeded with a copy of initial.
func NewScope(initial map[string]any) *Scope {
	vars := deepCopyMap(initial)
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Scope{vars: vars}
}

// Get returns a copy of the variable stored under key.
func (s *Scope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[key]
	return deepCopyAny(v), ok
}

// Set stores a copy of v under key.
func (s *Scope) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key] = deepCopyAny(v)
}

// Delete removes key.
func (s *Scope) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, key)
}

// Keys returns the variable names in sorted order.
func (s *Scope) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.vars))
}

// Snapshot returns a deep copy of all variables.
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopyMap(s.vars)
}

// Env builds the evaluation environment for a signal handled in state.
func (s *Scope) Env(sig schema.Signal, state string) map[string]any {
	return map[string]any{
		"signal":  sig.AsMap(),
		"context": s.Snapshot(),
		"state":   state,
	}
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps, slices and raw JSON. Primitives are
// value types and returned as is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []byte:
		return slices.Clone(val)
	case json.RawMessage:
		if val == nil {
			return nil
		}
		return slices.Clone(val)
	default:
		return v
	}
}

package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rendis/asyncflow/pkg/schema"
)

// parentPath returns the dot-path of the enclosing composite, or "" for
// top-level states.
func parentPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// validateSemantic performs semantic analysis on the chart definition.
// Checks: unique paths, composite nesting, initial and final states,
// transition targets, registered actions and guard expressions.
func validateSemantic(def *schema.ChartDefinition, actions ActionLookup, guards GuardCompiler) *schema.DefinitionReport {
	result := schema.NewDefinitionReport(def.Name)

	states := make(map[string]*schema.StateDefinition, len(def.States))
	for i := range def.States {
		s := &def.States[i]
		if _, dup := states[s.Path]; dup {
			result.Reject(s.Path, fmt.Sprintf("states[%d].path", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate state path %q", s.Path))
			continue
		}
		states[s.Path] = s
	}

	finals := make(map[string]bool, len(def.Finals))
	for i, f := range def.Finals {
		path := fmt.Sprintf("finals[%d]", i)
		st, ok := states[f]
		switch {
		case !ok:
			result.Reject(f, path, schema.ErrCodeNotFound, fmt.Sprintf("final state %q is not defined", f))
		case kindOf(st) == schema.StateKindComposite:
			result.Reject(f, path, schema.ErrCodeValidation, fmt.Sprintf("final state %q is a composite", f))
		case finals[f]:
			result.Warn(f, path, schema.ErrCodeValidation, fmt.Sprintf("final state %q listed twice", f))
		}
		finals[f] = true
	}

	if _, ok := states[def.Initial]; !ok {
		result.Reject(def.Initial, "initial", schema.ErrCodeNotFound, fmt.Sprintf("initial state %q is not defined", def.Initial))
	} else if finals[def.Initial] {
		result.Reject(def.Initial, "initial", schema.ErrCodePrecondition, fmt.Sprintf("initial state %q is a final state", def.Initial))
	}

	for i := range def.States {
		s := &def.States[i]
		path := fmt.Sprintf("states[%d]", i)
		validateNesting(s, path, states, result)
		validateStateSemantic(s, path, states, finals[s.Path], actions, guards, result)
	}

	return result
}

func kindOf(s *schema.StateDefinition) schema.StateKind {
	if s.Kind == "" {
		return schema.StateKindTable
	}
	return s.Kind
}

// validateNesting checks that the owner of a nested path is a defined composite.
func validateNesting(s *schema.StateDefinition, path string, states map[string]*schema.StateDefinition, result *schema.DefinitionReport) {
	parent := parentPath(s.Path)
	if parent == "" {
		return
	}
	owner, ok := states[parent]
	if !ok {
		result.Reject(s.Path, path+".path", schema.ErrCodeNotFound,
			fmt.Sprintf("state %q is nested under undefined state %q", s.Path, parent))
		return
	}
	if kindOf(owner) != schema.StateKindComposite {
		result.Reject(s.Path, path+".path", schema.ErrCodeValidation,
			fmt.Sprintf("state %q is nested under %q, which is not a composite", s.Path, parent))
	}
}

// validateStateSemantic checks the fields relevant to the state's kind.
func validateStateSemantic(s *schema.StateDefinition, path string, states map[string]*schema.StateDefinition, final bool, actions ActionLookup, guards GuardCompiler, result *schema.DefinitionReport) {
	kind := kindOf(s)

	checkTarget := func(field, target string) {
		if target == "" {
			return
		}
		if _, ok := states[target]; !ok {
			result.Reject(s.Path, field, schema.ErrCodeNotFound,
				fmt.Sprintf("transition target %q is not defined", target))
		}
	}

	for _, key := range sortedKeys(s.On) {
		t := s.On[key]
		checkTarget(fmt.Sprintf("%s.on[%s]", path, key), t.Target)
		validateActions(s.Path, t.Actions, fmt.Sprintf("%s.on[%s].actions", path, key), actions, result)
	}
	validateActions(s.Path, s.OnEnter, path+".on_enter", actions, result)
	validateActions(s.Path, s.OnExit, path+".on_exit", actions, result)

	switch kind {
	case schema.StateKindTable:
		if len(s.On) == 0 && !final {
			result.Warn(s.Path, path+".on", schema.ErrCodeValidation,
				fmt.Sprintf("state %q has no transitions and is not final", s.Path))
		}

	case schema.StateKindSingle:
		if s.Next == nil {
			result.Reject(s.Path, path+".next", schema.ErrCodeValidation,
				fmt.Sprintf("single state %q requires next", s.Path))
		} else {
			checkTarget(path+".next", s.Next.Target)
			validateActions(s.Path, s.Next.Actions, path+".next.actions", actions, result)
		}

	case schema.StateKindChoice:
		if len(s.Choices) == 0 {
			result.Reject(s.Path, path+".choices", schema.ErrCodeValidation,
				fmt.Sprintf("choice state %q requires choices", s.Path))
		}
		for j, c := range s.Choices {
			cpath := fmt.Sprintf("%s.choices[%d]", path, j)
			checkTarget(cpath+".target", c.Target)
			validateActions(s.Path, c.Actions, cpath+".actions", actions, result)
			if c.When == "" {
				if j < len(s.Choices)-1 {
					result.Warn(s.Path, cpath, schema.ErrCodeValidation,
						"unguarded choice shadows the choices after it")
				}
				continue
			}
			if guards != nil {
				if err := guards.CompileGuard(c.Lang, c.When); err != nil {
					result.Reject(s.Path, cpath+".when", schema.ErrCodeValidation, err.Error())
				}
			}
		}

	case schema.StateKindComposite:
		switch {
		case s.Initial == "":
			result.Reject(s.Path, path+".initial", schema.ErrCodeValidation,
				fmt.Sprintf("composite state %q requires an initial child", s.Path))
		case parentPath(s.Initial) != s.Path:
			result.Reject(s.Path, path+".initial", schema.ErrCodeValidation,
				fmt.Sprintf("initial child %q is not a direct child of %q", s.Initial, s.Path))
		default:
			if _, ok := states[s.Initial]; !ok {
				result.Reject(s.Path, path+".initial", schema.ErrCodeNotFound,
					fmt.Sprintf("initial child %q is not defined", s.Initial))
			}
		}

	case schema.StateKindSink, schema.StateKindException:
		if len(s.On) > 0 || s.Next != nil || len(s.Choices) > 0 {
			result.Warn(s.Path, path, schema.ErrCodeValidation,
				fmt.Sprintf("%s state %q ignores outgoing transitions", kind, s.Path))
		}
		if !final {
			result.Warn(s.Path, path, schema.ErrCodeValidation,
				fmt.Sprintf("%s state %q is not final; the chart stalls there", kind, s.Path))
		}
		if kind == schema.StateKindException && s.Error == "" {
			result.Warn(s.Path, path+".error", schema.ErrCodeValidation,
				fmt.Sprintf("exception state %q has no error message", s.Path))
		}
	}

	if kind != schema.StateKindComposite && s.Initial != "" {
		result.Warn(s.Path, path+".initial", schema.ErrCodeValidation,
			fmt.Sprintf("initial is only used by composite states (state %q is %s)", s.Path, kind))
	}
}

func validateActions(state string, refs []schema.ActionRef, path string, actions ActionLookup, result *schema.DefinitionReport) {
	if actions == nil {
		return
	}
	for i, ref := range refs {
		if !actions.Has(ref.Name) {
			result.Reject(state, fmt.Sprintf("%s[%d]", path, i), schema.ErrCodeNotFound,
				fmt.Sprintf("action %q not registered", ref.Name))
		}
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

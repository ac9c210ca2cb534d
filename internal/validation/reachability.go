package validation

import (
	"fmt"

	"github.com/rendis/asyncflow/pkg/schema"
)

// validateReachability walks the transition graph breadth-first from the
// initial state and warns about states no signal sequence can reach.
func validateReachability(def *schema.ChartDefinition) *schema.DefinitionReport {
	result := schema.NewDefinitionReport(def.Name)

	edges := make(map[string][]string, len(def.States))
	for _, s := range def.States {
		var out []string
		for _, key := range sortedKeys(s.On) {
			out = append(out, s.On[key].Target)
		}
		if s.Next != nil {
			out = append(out, s.Next.Target)
		}
		for _, c := range s.Choices {
			out = append(out, c.Target)
		}
		if kindOf(&s) == schema.StateKindComposite && s.Initial != "" {
			out = append(out, s.Initial)
		}
		edges[s.Path] = append(edges[s.Path], out...)

		// Children inherit their ancestors' transitions, so entering any child
		// makes every transition of the enclosing composites available.
		for p := parentPath(s.Path); p != ""; p = parentPath(p) {
			edges[s.Path] = append(edges[s.Path], p)
		}
	}

	reachable := map[string]bool{def.Initial: true}
	queue := []string{def.Initial}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if next == "" || reachable[next] {
				continue
			}
			reachable[next] = true
			queue = append(queue, next)
		}
	}

	for i, s := range def.States {
		if !reachable[s.Path] {
			result.Warn(s.Path, fmt.Sprintf("states[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("state %q is unreachable from initial state %q", s.Path, def.Initial))
		}
	}

	anyFinal := false
	for _, f := range def.Finals {
		if reachable[f] {
			anyFinal = true
			break
		}
	}
	if !anyFinal {
		result.Warn("", "finals", schema.ErrCodeValidation, "no final state is reachable; the chart can only end by cancellation")
	}

	return result
}

package diagram

import (
	"fmt"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/statechart"
)

// FromChart converts a chart into a DiagramModel. States in the chart's
// current configuration carry a StatusOverlay with the chart's lifecycle
// state.
func FromChart(c *statechart.Chart) *DiagramModel {
	model := &DiagramModel{Title: c.Name()}
	if model.Title == "" {
		model.Title = "Chart"
	}

	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, s := range c.States() {
		model.Nodes = append(model.Nodes, buildNode(c, s))
	}
	model.Nodes = append(model.Nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	model.Edges = buildEdges(c)
	applyStatus(model, c)
	model.Levels = buildLevels(model)
	return model
}

func buildNode(c *statechart.Chart, s statechart.State) *Node {
	path := s.Path()
	n := &Node{
		ID:     path,
		Label:  nodeLabel(path, s),
		Kind:   nodeKind(s.Kind()),
		Parent: statechart.Parent(path),
		Final:  c.IsFinal(path),
	}
	if cs, ok := s.(*statechart.CompositeState); ok {
		n.Initial = cs.Initial()
	}
	return n
}

// nodeLabel uses the last path segment, with the description on a second line.
func nodeLabel(path string, s statechart.State) string {
	label := shortID(path)
	if d, ok := s.(interface{ Description() string }); ok && d.Description() != "" {
		label += "\n" + d.Description()
	}
	return label
}

func nodeKind(k statechart.Kind) NodeKind {
	switch k {
	case statechart.KindSingle:
		return NodeKindSingle
	case statechart.KindChoice:
		return NodeKindChoice
	case statechart.KindComposite:
		return NodeKindComposite
	case statechart.KindFunc:
		return NodeKindFunc
	case statechart.KindSink:
		return NodeKindSink
	case statechart.KindException:
		return NodeKindException
	default:
		return NodeKindTable
	}
}

// buildEdges lists the statically known transitions. Stays and the targets
// of func states are not drawn.
func buildEdges(c *statechart.Chart) []Edge {
	edges := []Edge{{From: StartID, To: c.Initial()}}

	keyed := func(from string, ts []statechart.KeyedTransition) {
		for _, kt := range ts {
			if kt.Transition.IsStay() {
				continue
			}
			edges = append(edges, Edge{From: from, To: kt.Transition.Target(), Label: kt.Key})
		}
	}

	for _, s := range c.States() {
		from := s.Path()
		switch st := s.(type) {
		case *statechart.TableState:
			keyed(from, st.Transitions())
		case *statechart.CompositeState:
			keyed(from, st.Transitions())
		case *statechart.SingleState:
			if next := st.Next(); !next.IsStay() {
				edges = append(edges, Edge{From: from, To: next.Target(), Label: "any"})
			}
		case *statechart.ChoiceState:
			for i, br := range st.Branches() {
				if br.Transition.IsStay() {
					continue
				}
				edges = append(edges, Edge{From: from, To: br.Transition.Target(), Label: branchLabel(i, br)})
			}
		}
	}

	for _, f := range c.Finals() {
		edges = append(edges, Edge{From: f, To: EndID})
	}
	return edges
}

func branchLabel(i int, br statechart.Branch) string {
	switch {
	case br.Expression != "":
		if br.Lang != "" && br.Lang != "cel" {
			return fmt.Sprintf("[%s] %s", br.Lang, br.Expression)
		}
		return br.Expression
	case br.Func != nil:
		return fmt.Sprintf("guard %d", i+1)
	default:
		return "else"
	}
}

func applyStatus(model *DiagramModel, c *statechart.Chart) {
	config := c.Configuration()
	if len(config) == 0 {
		return
	}
	status := c.State()
	if status == async.Cancelling {
		status = async.Cancelled
	}
	for i, path := range config {
		if n := model.Node(path); n != nil {
			n.Status = &StatusOverlay{Status: status.String(), Leaf: i == len(config)-1}
		}
	}
}

// buildLevels assigns every node a breadth-first distance from the start
// marker. Composites lead to their initial child. Nodes that cannot be
// reached share a level before the end marker, which always comes last.
func buildLevels(model *DiagramModel) [][]string {
	next := make(map[string][]string)
	for _, e := range model.Edges {
		if e.To != EndID {
			next[e.From] = append(next[e.From], e.To)
		}
	}
	for _, n := range model.Nodes {
		if n.Initial != "" {
			next[n.ID] = append([]string{n.Initial}, next[n.ID]...)
		}
	}

	seen := map[string]bool{StartID: true}
	levels := [][]string{{StartID}}
	frontier := []string{StartID}
	for len(frontier) > 0 {
		var level []string
		for _, id := range frontier {
			for _, to := range next[id] {
				if !seen[to] {
					seen[to] = true
					level = append(level, to)
				}
			}
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
		frontier = level
	}

	var rest []string
	for _, n := range model.Nodes {
		if n.ID != EndID && !seen[n.ID] {
			rest = append(rest, n.ID)
		}
	}
	if len(rest) > 0 {
		levels = append(levels, rest)
	}
	return append(levels, []string{EndID})
}

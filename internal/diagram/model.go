package diagram

// NodeKind classifies a diagram node by the kind of chart state it draws.
type NodeKind string

const (
	NodeKindTable     NodeKind = "table"
	NodeKindSingle    NodeKind = "single"
	NodeKindChoice    NodeKind = "choice"
	NodeKindComposite NodeKind = "composite"
	NodeKindFunc      NodeKind = "func"
	NodeKindSink      NodeKind = "sink"
	NodeKindException NodeKind = "exception"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Virtual node IDs for the entry and exit markers.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single chart state.
type Node struct {
	ID      string
	Label   string
	Kind    NodeKind
	Parent  string // enclosing composite, empty at the top level
	Initial string // initial child, composites only
	Final   bool
	Status  *StatusOverlay
}

// StatusOverlay carries runtime state for a node in the active configuration.
type StatusOverlay struct {
	Status string // lifecycle state of the chart, e.g. "running"
	Leaf   bool
}

// Edge represents a transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node looks up a node by ID.
func (m *DiagramModel) Node(id string) *Node {
	return findNode(m.Nodes, id)
}

// Children returns the nodes nested directly under parent, in model order.
// An empty parent selects the top level.
func (m *DiagramModel) Children(parent string) []*Node {
	var out []*Node
	for _, n := range m.Nodes {
		if n.Kind == NodeKindStart || n.Kind == NodeKindEnd {
			continue
		}
		if n.Parent == parent {
			out = append(out, n)
		}
	}
	return out
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

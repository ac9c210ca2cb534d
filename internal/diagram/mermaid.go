package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid state diagram. Composite
// states become nested blocks with their own entry marker.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("stateDiagram-v2\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	writeStates(&b, model, "", "    ")

	// Render edges. Entry and exit markers map to [*].
	for _, edge := range model.Edges {
		from, to := mermaidEndpoint(edge.From), mermaidEndpoint(edge.To)
		if edge.Label != "" {
			b.WriteString(fmt.Sprintf("    %s --> %s : %s\n", from, to, mermaidEscapeLabel(edge.Label)))
		} else {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", from, to))
		}
	}

	// Status class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef cancelled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef exception stroke:#8b1a1a,stroke-width:2px\n")

	// Apply classes.
	for _, node := range model.Nodes {
		if node.Kind == NodeKindException {
			b.WriteString(fmt.Sprintf("    class %s exception\n", mermaidSafeID(node.ID)))
		}
		if node.Status != nil && node.Status.Leaf {
			if cls := mermaidStatusClass(node.Status.Status); cls != "" {
				b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
			}
		}
	}

	return b.String()
}

// writeStates declares the states nested under parent.
func writeStates(b *strings.Builder, model *DiagramModel, parent, indent string) {
	for _, node := range model.Children(parent) {
		id := mermaidSafeID(node.ID)
		b.WriteString(fmt.Sprintf("%s%s\n", indent, mermaidNodeDef(node)))
		if node.Kind != NodeKindComposite {
			continue
		}
		b.WriteString(fmt.Sprintf("%sstate %s {\n", indent, id))
		if node.Initial != "" {
			b.WriteString(fmt.Sprintf("%s    [*] --> %s\n", indent, mermaidSafeID(node.Initial)))
		}
		writeStates(b, model, node.ID, indent+"    ")
		b.WriteString(indent + "}\n")
	}
}

// mermaidNodeDef returns a Mermaid state declaration for the node's kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindChoice:
		return fmt.Sprintf("state %s <<choice>>", id)
	case NodeKindSink, NodeKindException:
		return fmt.Sprintf("state %q as %s", label+" ("+string(node.Kind)+")", id)
	default:
		return fmt.Sprintf("state %q as %s", label, id)
	}
}

func mermaidEndpoint(id string) string {
	if id == StartID || id == EndID {
		return "[*]"
	}
	return mermaidSafeID(id)
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots and dashes with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel drops characters that end a Mermaid label early.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer("\n", " ", ":", "#58;", ";", "#59;")
	return r.Replace(s)
}

// mermaidStatusClass maps a lifecycle state to a class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed", "running", "cancelled":
		return status
	default:
		return ""
	}
}

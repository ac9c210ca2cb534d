package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Format selects the output of RenderImage.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
// Returns the PNG bytes.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	return RenderImageFormat(ctx, model, FormatPNG)
}

// RenderImageFormat renders a DiagramModel with graphviz in the given format.
// Composite states are drawn as clusters around their children.
func RenderImageFormat(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatPNG, "":
		gvFormat = graphviz.PNG
	case FormatSVG:
		gvFormat = graphviz.SVG
	default:
		return nil, fmt.Errorf("diagram: unsupported image format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	graph.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, marker := range []string{StartID, EndID} {
		node := model.Node(marker)
		if node == nil {
			continue
		}
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel("")
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}
	if err := addStates(graph, model, "", gvNodes); err != nil {
		return nil, err
	}

	// Create edges.
	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			e, eErr := graph.CreateEdgeByName("", fromGV, toGV)
			if eErr == nil && edge.Label != "" {
				e.SetLabel(edge.Label)
			}
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

// addStates creates the nodes nested under parent inside g. A composite gets
// a cluster holding an anchor node for its own edges plus its children.
func addStates(g *cgraph.Graph, model *DiagramModel, parent string, gvNodes map[string]*cgraph.Node) error {
	for _, node := range model.Children(parent) {
		target := g
		if node.Kind == NodeKindComposite {
			sub, err := g.CreateSubGraphByName("cluster_" + mermaidSafeID(node.ID))
			if err != nil {
				return fmt.Errorf("diagram: create cluster %s: %w", node.ID, err)
			}
			sub.SetLabel(firstLine(node.Label))
			sub.SetStyle(cgraph.DashedGraphStyle)
			target = sub
		}

		gvNode, err := target.CreateNodeByName(node.ID)
		if err != nil {
			return fmt.Errorf("diagram: create node %s: %w", node.ID, err)
		}
		gvNode.SetLabel(firstLine(node.Label))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode

		if node.Kind == NodeKindComposite {
			if err := addStates(target, model, node.ID, gvNodes); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyNodeStyle sets graphviz attributes based on node kind and status.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	// Shape by kind.
	switch node.Kind {
	case NodeKindTable, NodeKindSingle, NodeKindFunc:
		gvNode.SetShape(cgraph.BoxShape)
		gvNode.SetStyle(cgraph.RoundedNodeStyle)
	case NodeKindChoice:
		gvNode.SetShape(cgraph.DiamondShape)
	case NodeKindComposite:
		gvNode.SetShape(cgraph.PlainTextShape)
	case NodeKindSink:
		gvNode.SetShape(cgraph.DoubleCircleShape)
	case NodeKindException:
		gvNode.SetShape(cgraph.DoubleOctagonShape)
		gvNode.SetColor("#8b1a1a")
	case NodeKindStart:
		gvNode.SetShape(cgraph.PointShape)
		gvNode.SetWidth(0.2)
	case NodeKindEnd:
		gvNode.SetShape(cgraph.DoubleCircleShape)
		gvNode.SetWidth(0.2)
		gvNode.SetHeight(0.2)
	}

	// Color by status.
	if node.Status != nil {
		applyStatusColor(gvNode, node.Status)
	}
}

// applyStatusColor fills the active leaf and outlines its ancestors.
func applyStatusColor(gvNode *cgraph.Node, status *StatusOverlay) {
	if !status.Leaf {
		gvNode.SetPenWidth(2)
		return
	}
	gvNode.SetStyle(cgraph.FilledNodeStyle)
	switch status.Status {
	case "completed":
		gvNode.SetFillColor("#2d6a2d")
		gvNode.SetFontColor("white")
	case "failed":
		gvNode.SetFillColor("#8b1a1a")
		gvNode.SetFontColor("white")
	case "running":
		gvNode.SetFillColor("#1a5276")
		gvNode.SetFontColor("white")
	case "cancelled":
		gvNode.SetFillColor("#e8e8e8")
		gvNode.SetFontColor("#888888")
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
}

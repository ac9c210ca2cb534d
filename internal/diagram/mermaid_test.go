package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaid(t *testing.T) {
	output := RenderMermaid(FromChart(jobChart(t)))

	assert.Contains(t, output, "stateDiagram-v2")
	assert.Contains(t, output, "%% job")

	// Declarations by kind.
	assert.Contains(t, output, `state "idle" as idle`)
	assert.Contains(t, output, "state work_check <<choice>>")
	assert.Contains(t, output, `state "done (sink)" as done`)
	assert.Contains(t, output, `state "failed (exception)" as failed`)

	// Composite block with its own entry.
	assert.Contains(t, output, "state work {\n        [*] --> work_fetch\n")
	assert.Contains(t, output, `        state "fetch" as work_fetch`)

	// Edges.
	assert.Contains(t, output, "[*] --> idle\n")
	assert.Contains(t, output, "idle --> work : go\n")
	assert.Contains(t, output, "work_check --> work_fetch : else\n")
	assert.Contains(t, output, "done --> [*]\n")
	assert.NotContains(t, output, "spare -->")

	assert.Contains(t, output, "classDef running")
	assert.Contains(t, output, "class failed exception")
}

func TestRenderMermaid_EscapesLabels(t *testing.T) {
	model := &DiagramModel{
		Nodes: []*Node{{ID: "a", Label: "a", Kind: NodeKindTable}, {ID: "b", Label: "b", Kind: NodeKindTable}},
		Edges: []Edge{{From: "a", To: "b", Label: "x: y; z"}},
	}
	output := RenderMermaid(model)
	assert.Contains(t, output, "a --> b : x#58; y#59; z\n")
}

func TestRenderMermaid_ActiveLeaf(t *testing.T) {
	c := jobChart(t)
	require.NoError(t, c.Start())
	c.Send(context.Background(), "go", nil)

	output := RenderMermaid(FromChart(c))
	assert.Contains(t, output, "class work_fetch running")
	assert.NotContains(t, output, "class work running")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "a_b_c", mermaidSafeID("a.b-c"))
	assert.Equal(t, "[*]", mermaidEndpoint(StartID))
	assert.Equal(t, "[*]", mermaidEndpoint(EndID))
	assert.Equal(t, "x_y", mermaidEndpoint("x.y"))
}

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDefinition(t *testing.T) {
	path := writeChart(t, counterYAML)
	ctx := context.Background()

	out, err := renderDefinition(ctx, path, "mermaid", "")
	require.NoError(t, err)
	assert.Contains(t, string(out), "stateDiagram-v2")
	assert.Contains(t, string(out), "idle --> done : finish")

	out, err = renderDefinition(ctx, path, "ascii", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, string(out), "=== counter ===")

	out, err = renderDefinition(ctx, path, "png", "")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, byte(0x89), out[0])

	_, err = renderDefinition(ctx, path, "gif", "")
	assert.Error(t, err)
}

func TestRenderDefinition_CLIActions(t *testing.T) {
	path := writeChart(t, `
name: tools
initial: a
finals: [b]
states:
  - path: a
    on:
      go:
        target: b
        actions:
          - { name: exec, args: { command: "true" } }
          - { name: ws_send, args: { text: hi } }
  - path: b
    kind: sink
`)
	_, err := renderDefinition(context.Background(), path, "mermaid", "")
	assert.NoError(t, err)
}

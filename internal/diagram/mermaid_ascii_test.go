package diagram

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMermaidForCLI(t *testing.T) {
	result := RenderMermaidForCLI(FromChart(jobChart(t)))

	assert.Contains(t, result, "graph TD")
	assert.Contains(t, result, "Start --> idle")
	assert.Contains(t, result, "idle -->|go| work")
	assert.Contains(t, result, "work -->|init| work.fetch")
	assert.Contains(t, result, "failed --> End")
	// Must NOT contain state diagram syntax.
	assert.NotContains(t, result, "[*]")
	assert.NotContains(t, result, "classDef")
}

func TestRenderMermaidForCLI_WithStatus(t *testing.T) {
	c := jobChart(t)
	require.NoError(t, c.Start())

	result := RenderMermaidForCLI(FromChart(c))
	assert.Contains(t, result, "Start --> idle-RUN")
	assert.Contains(t, result, "idle-RUN -->|go| work")
}

func TestCLILabel(t *testing.T) {
	assert.Equal(t, "a / b c", cliLabel("a | b\nc"))
}

func TestRenderASCIIAuto_FallbackNoBinary(t *testing.T) {
	model := FromChart(jobChart(t))
	result := RenderASCIIAuto(context.Background(), model, t.TempDir())
	assert.Equal(t, RenderASCII(model), result)

	assert.Equal(t, RenderASCII(model), RenderASCIIAuto(context.Background(), model, ""))
}

func TestRenderASCIIAuto_FallbackOnFailure(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "mermaid-ascii")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 3\n"), 0o755))

	model := FromChart(jobChart(t))
	assert.Equal(t, RenderASCII(model), RenderASCIIAuto(context.Background(), model, dir))

	_, err := RenderASCIIViaCLI(context.Background(), model, bin)
	assert.Error(t, err)
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/diagram"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/internal/wsdriver"
)

// --- Example charts ---

func examplesDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "examples")
}

func examplePath(name string) string {
	return filepath.Join(examplesDir(), name, "chart.yaml")
}

func TestExamples_AllCompileAndRender(t *testing.T) {
	entries, err := os.ReadDir(examplesDir())
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		t.Run(entry.Name(), func(t *testing.T) {
			def, err := statechart.ReadDefinition(examplePath(entry.Name()))
			require.NoError(t, err)
			assert.Equal(t, entry.Name(), def.Name)

			reg, err := cliActions(&wsdriver.Driver{})
			require.NoError(t, err)
			c, err := statechart.Compile(def, reg)
			require.NoError(t, err)

			out := diagram.RenderMermaid(diagram.FromChart(c))
			assert.True(t, strings.HasPrefix(out, "stateDiagram-v2"))
		})
	}
}

func TestExample_BuildPipeline(t *testing.T) {
	r, out, _ := run(t, runOptions{Definition: examplePath("build-pipeline")}, "build\ncheck\n")
	require.True(t, r.IsCompleted(), out)
	assert.Equal(t, "passed", r.Value)
}

func TestExample_BuildPipelineAbort(t *testing.T) {
	r, out, _ := run(t, runOptions{Definition: examplePath("build-pipeline")}, "abort\n")
	require.True(t, r.IsFailed())
	assert.Contains(t, out, "build failed")
}

func TestExample_TrafficLight(t *testing.T) {
	input := strings.Repeat("tick\n", 7) + "switch_off\n"
	r, _, _ := run(t, runOptions{Definition: examplePath("traffic-light")}, input)
	require.True(t, r.IsCompleted())
	assert.Equal(t, "off", r.Value)
}

func TestExample_TrafficLightEvents(t *testing.T) {
	_, _, events := run(t, runOptions{Definition: examplePath("traffic-light"), Events: true}, "tick\nswitch_off\n")
	assert.Contains(t, events, "running.green")
}

func TestExample_OrderApproval(t *testing.T) {
	tests := []struct {
		name  string
		input string
		done  bool
		final string
	}{
		{"small order", "submit {\"amount\": 120}\nroute\n", true, "approved"},
		{"large order approved", "submit {\"amount\": 5000}\nroute\napprove\n", true, "approved"},
		{"large order rejected", "submit {\"amount\": 5000}\nroute\nreject\n", false, ""},
		{"invalid payload ignored", "submit {\"amount\": -1}\nsubmit {\"amount\": 10}\nroute\n", true, "approved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out, _ := run(t, runOptions{Definition: examplePath("order-approval")}, tt.input)
			if !tt.done {
				require.True(t, r.IsFailed(), out)
				assert.Contains(t, out, "order rejected")
				return
			}
			require.True(t, r.IsCompleted(), out)
			assert.Equal(t, tt.final, r.Value)
		})
	}
}

func TestRenderDefinition_Example(t *testing.T) {
	out, err := renderDefinition(context.Background(), examplePath("traffic-light"), "ascii", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, string(out), "red")
}

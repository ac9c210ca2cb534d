package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rendis/asyncflow/internal/diagram"
	"github.com/rendis/asyncflow/internal/process"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/internal/wsdriver"
)

func diagramCommand(args []string) int {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "mermaid", "output format: mermaid, ascii, png, svg")
	output := fs.String("o", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: asyncflow diagram [-format mermaid|ascii|png|svg] [-o file] <chart.yaml>")
		return 2
	}

	data, err := renderDefinition(context.Background(), fs.Arg(0), *format, binDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *output == "" {
		_, _ = os.Stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", *output, err)
		return 1
	}
	fmt.Printf("Diagram written to %s\n", *output)
	return 0
}

// renderDefinition compiles the chart definition at path and renders it.
// Actions contributed by the CLI are registered so that definitions using
// them compile.
func renderDefinition(ctx context.Context, path, format, bin string) ([]byte, error) {
	def, err := statechart.ReadDefinition(path)
	if err != nil {
		return nil, err
	}
	reg, err := cliActions(&wsdriver.Driver{})
	if err != nil {
		return nil, err
	}
	c, err := statechart.Compile(def, reg)
	if err != nil {
		return nil, err
	}

	model := diagram.FromChart(c)
	switch format {
	case "mermaid":
		return []byte(diagram.RenderMermaid(model)), nil
	case "ascii":
		return []byte(diagram.RenderASCIIAuto(ctx, model, bin)), nil
	case "png":
		return diagram.RenderImageFormat(ctx, model, diagram.FormatPNG)
	case "svg":
		return diagram.RenderImageFormat(ctx, model, diagram.FormatSVG)
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}

// cliActions returns the builtins plus the exec and ws_send actions bound to
// driver.
func cliActions(driver *wsdriver.Driver) (*statechart.ActionRegistry, error) {
	reg := statechart.NewActionRegistry()
	if err := process.RegisterActions(reg); err != nil {
		return nil, err
	}
	if err := driver.RegisterActions(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

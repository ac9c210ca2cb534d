// Command asyncflow runs state chart definitions and renders their diagrams.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rendis/asyncflow/internal/logging"
)

const usage = `usage: asyncflow <command> [flags]

commands:
  run      run a chart definition, reading signals from stdin or a WebSocket
  diagram  render a chart definition as mermaid, ascii, png or svg
  install  write ~/.asyncflow/settings.json and fetch the mermaid-ascii renderer
  version  print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	setupLogger(cfg.LogLevel)

	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(cfg, args))
	case "diagram":
		os.Exit(diagramCommand(args))
	case "install":
		runInstall(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

// setupLogger installs a JSON logger on stderr carrying correlation IDs.
func setupLogger(level string) {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(level)})
	slog.SetDefault(slog.New(logging.NewCorrelationHandler(h)))
}

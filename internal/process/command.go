// Package process runs OS processes as executions.
package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/pkg/schema"
)

const (
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
	waitDelay            = 5 * time.Second
)

// Spec describes the process to run.
type Spec struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string // appended to the current environment
	Stdin string
	// Shell runs Name and Args joined by spaces through /bin/sh -c.
	Shell bool
	// Timeout kills the process and fails the execution when positive.
	Timeout time.Duration
	// MaxOutputSize caps the captured stdout and stderr each. Further
	// output is discarded.
	MaxOutputSize int64
	// FailOnExit fails the execution when the process exits non-zero.
	// Otherwise the exit code is reported in Output.
	FailOnExit bool
}

// Output is the result of a finished process.
type Output struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Map renders the output for chart variables.
func (o Output) Map() map[string]any {
	return map[string]any{
		"stdout":      o.Stdout,
		"stderr":      o.Stderr,
		"exit_code":   o.ExitCode,
		"duration_ms": o.Duration.Milliseconds(),
	}
}

// Execution wraps an OS process. The process is launched on Start;
// Cancel(true) kills it, Cancel(false) finishes the execution and lets the
// process run to completion unobserved.
type Execution struct {
	*async.GoExecution[Output]
	spec Spec
}

// Command creates an execution running name with args.
func Command(name string, args ...string) *Execution {
	return New(Spec{Name: name, Args: args})
}

// New creates an execution for spec.
func New(spec Spec, opts ...async.Option) *Execution {
	e := &Execution{spec: spec}
	if spec.Name != "" {
		opts = append([]async.Option{async.WithName(spec.Name)}, opts...)
	}
	e.GoExecution = async.Go(func(ctx context.Context) (Output, error) {
		return Run(ctx, e.spec)
	}, opts...)
	return e
}

// Spec returns the process description.
func (e *Execution) Spec() Spec { return e.spec }

// Run starts the process described by spec and waits for it. Cancelling
// ctx kills the process.
func Run(ctx context.Context, spec Spec) (Output, error) {
	if spec.Name == "" {
		return Output{}, schema.NewError(schema.ErrCodeValidation, "process: command is empty")
	}
	if spec.MaxOutputSize <= 0 {
		spec.MaxOutputSize = defaultMaxOutputSize
	}

	execCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if spec.Shell {
		full := spec.Name
		if len(spec.Args) > 0 {
			full += " " + strings.Join(spec.Args, " ")
		}
		cmd = exec.CommandContext(execCtx, "/bin/sh", "-c", full)
	} else {
		cmd = exec.CommandContext(execCtx, spec.Name, spec.Args...)
	}
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	// Kill on cancellation and allow time for pipe drain.
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: spec.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: spec.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return out, schema.NewErrorf(schema.ErrCodeTimeout, "process %s killed after %s", spec.Name, spec.Timeout).
			WithDetails(map[string]any{"stderr": out.Stderr})
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return out, schema.NewErrorf(schema.ErrCodeExecution, "process %s: %v", spec.Name, runErr)
	}
	out.ExitCode = exitErr.ExitCode()
	if spec.FailOnExit {
		return out, schema.NewErrorf(schema.ErrCodeExecution, "process %s exited with code %d", spec.Name, out.ExitCode).
			WithDetails(map[string]any{"exit_code": out.ExitCode, "stderr": out.Stderr})
	}
	return out, nil
}

// limitedWriter writes up to limit bytes and silently discards the rest.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	return total, nil
}

package process

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/async/op"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/pkg/schema"
)

// RegisterActions adds the exec action to reg. It runs a process while the
// chart traverses and stores Output.Map() in the variable named by "var"
// (default "result"). An optional "retry" map re-runs failed processes:
// attempts, delay, backoff (constant, linear, exponential) and max_delay.
//
//	{ name: exec, args: { command: git, args: [status], timeout: 5s, var: st } }
func RegisterActions(reg *statechart.ActionRegistry) error {
	return reg.Register("exec", execAction)
}

func execAction(args map[string]any) (statechart.Action, error) {
	spec, err := specFromArgs(args)
	if err != nil {
		return nil, err
	}
	name := "result"
	if v, ok := args["var"].(string); ok && v != "" {
		name = v
	}
	var policy *op.RetryPolicy
	if raw, ok := args["retry"]; ok {
		p, err := retryFromArgs(raw)
		if err != nil {
			return nil, err
		}
		policy = &p
	}

	return func(ctx context.Context, in statechart.Input) error {
		var (
			out Output
			err error
		)
		if policy == nil {
			out, err = Run(ctx, spec)
		} else {
			out, err = RunRetried(ctx, spec, *policy)
		}
		if err != nil {
			return err
		}
		in.Scope.Set(name, out.Map())
		return nil
	}, nil
}

// RunRetried runs spec as a retried execution and waits for it. Cancelling
// ctx kills the running attempt.
func RunRetried(ctx context.Context, spec Spec, policy op.RetryPolicy, opts ...op.Option) (Output, error) {
	e := op.Retried(func(int) async.Startable[Output] { return New(spec) }, policy, opts...)
	if err := e.Start(); err != nil {
		return Output{}, err
	}
	r, err := e.WaitForDone(ctx)
	if err != nil {
		e.Cancel(true)
		return Output{}, err
	}
	if r.IsCancelled() {
		return Output{}, schema.NewError(schema.ErrCodeCancelled, "process: cancelled")
	}
	return r.Value, r.Err
}

func retryFromArgs(raw any) (op.RetryPolicy, error) {
	var p op.RetryPolicy
	m, ok := raw.(map[string]any)
	if !ok {
		return p, fmt.Errorf("argument \"retry\" must be a map")
	}
	switch n := m["attempts"].(type) {
	case int:
		p.MaxAttempts = n
	case float64:
		p.MaxAttempts = int(n)
	case nil:
		p.MaxAttempts = 3
	default:
		return p, fmt.Errorf("argument \"retry.attempts\" must be a number")
	}
	var err error
	if p.Delay, err = durationArg(m, "delay"); err != nil {
		return p, err
	}
	if p.MaxDelay, err = durationArg(m, "max_delay"); err != nil {
		return p, err
	}
	if b, ok := m["backoff"].(string); ok {
		switch op.Backoff(b) {
		case op.BackoffConstant, op.BackoffLinear, op.BackoffExponential:
			p.Backoff = op.Backoff(b)
		default:
			return p, fmt.Errorf("argument \"retry.backoff\": unknown backoff %q", b)
		}
	}
	return p, nil
}

func durationArg(m map[string]any, key string) (time.Duration, error) {
	raw, ok := m[key].(string)
	if !ok || raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("argument \"retry.%s\": %w", key, err)
	}
	return d, nil
}

func specFromArgs(args map[string]any) (Spec, error) {
	var spec Spec
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return spec, fmt.Errorf("argument \"command\" is required")
	}
	spec.Name = command

	if raw, ok := args["args"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return spec, fmt.Errorf("argument \"args\" must be a list")
		}
		for _, item := range list {
			spec.Args = append(spec.Args, fmt.Sprint(item))
		}
	}
	if dir, ok := args["cwd"].(string); ok {
		spec.Dir = dir
	}
	if env, ok := args["env"].(map[string]any); ok {
		spec.Env = make(map[string]string, len(env))
		for k, v := range env {
			spec.Env[k] = fmt.Sprint(v)
		}
	}
	if stdin, ok := args["stdin"].(string); ok {
		spec.Stdin = stdin
	}
	spec.Shell, _ = args["shell"].(bool)
	spec.FailOnExit, _ = args["fail_on_exit"].(bool)

	if raw, ok := args["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return spec, fmt.Errorf("argument \"timeout\": %w", err)
		}
		spec.Timeout = d
	}
	return spec, nil
}

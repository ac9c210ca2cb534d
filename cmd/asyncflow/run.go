package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/pool"
	"github.com/rendis/asyncflow/internal/scheduler"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/internal/streaming"
	"github.com/rendis/asyncflow/internal/wsdriver"
	"github.com/rendis/asyncflow/pkg/schema"
)

// runOptions are the flags of the run command.
type runOptions struct {
	Definition    string
	WSURL         string
	DecodeJSON    bool
	Tick          string
	Events        bool
	SignalTimeout time.Duration
	PoolSize      int
}

func runCommand(cfg Config, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	opts := runOptions{SignalTimeout: time.Duration(cfg.SignalTimeout), PoolSize: cfg.PoolSize}
	fs.StringVar(&opts.WSURL, "ws", cfg.WSURL, "read signals from this WebSocket URL instead of stdin")
	fs.BoolVar(&opts.DecodeJSON, "json", false, `decode {"name": ..., "payload": ...} WebSocket text frames into named signals`)
	fs.StringVar(&opts.Tick, "tick", "", "cron expression; each match sends a tick signal")
	fs.BoolVar(&opts.Events, "events", false, "print chart events to stderr as JSON lines")
	fs.DurationVar(&opts.SignalTimeout, "signal-timeout", opts.SignalTimeout, "max wait for the chart to accept a signal")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: asyncflow run [flags] <chart.yaml>")
		return 2
	}
	opts.Definition = fs.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runChart(ctx, opts, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if r.IsFailed() {
		return 1
	}
	return 0
}

// runChart compiles the definition, starts the chart and feeds it signals
// until the chart finishes or the input ends. Input ending before the chart
// finishes cancels it.
func runChart(ctx context.Context, opts runOptions, in io.Reader, out, errOut io.Writer) (async.Result[string], error) {
	var none async.Result[string]
	logger := slog.Default()

	def, err := statechart.ReadDefinition(opts.Definition)
	if err != nil {
		return none, err
	}

	driver := &wsdriver.Driver{URL: opts.WSURL, DecodeJSON: opts.DecodeJSON, Logger: logger}
	reg, err := cliActions(driver)
	if err != nil {
		return none, err
	}

	workers := pool.New("asyncflow", opts.PoolSize, logger)
	defer workers.Shutdown()

	hub := streaming.NewMemoryHub()
	chartOpts := []statechart.Option{
		statechart.WithExecutionOptions(async.WithLogger(logger), async.WithExecutor(workers)),
	}
	if opts.Events {
		chartOpts = append(chartOpts, statechart.WithObserver(streaming.ChartObserver(ctx, hub)))
	}

	c, err := statechart.Compile(def, reg, chartOpts...)
	if err != nil {
		return none, err
	}

	if opts.Events {
		events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
		if err != nil {
			return none, err
		}
		printed := make(chan struct{})
		go func() {
			defer close(printed)
			enc := json.NewEncoder(errOut)
			for ev := range events {
				_ = enc.Encode(ev)
			}
		}()
		defer func() {
			cancel()
			<-printed
		}()
		streaming.Observe[string](ctx, hub, c, def.Name)
	}

	if err := c.Start(); err != nil {
		return none, err
	}

	handler := timedHandler{chart: c, timeout: opts.SignalTimeout}

	if opts.Tick != "" {
		runner := scheduler.NewCronRunner(scheduler.Default(), logger)
		err := runner.Add("tick", opts.Tick, func(fire time.Time) (async.Handle, error) {
			return async.Go(func(ctx context.Context) (bool, error) {
				return handler.HandleSignal(ctx, schema.Named("tick", map[string]any{"time": fire.Format(time.RFC3339)})), nil
			}, async.WithName("tick"), async.WithExecutor(workers)), nil
		})
		if err != nil {
			return none, err
		}
		if err := runner.Start(); err != nil {
			return none, err
		}
		defer runner.Stop()
	}

	feedDone := make(chan error, 1)
	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	go func() {
		if opts.WSURL != "" {
			feedDone <- driver.Run(feedCtx, handler)
			return
		}
		feedDone <- feedLines(feedCtx, in, handler)
	}()

	// With a tick source the chart keeps running after the input ends.
	var feedErr error
	feed := feedDone
	for finished := false; !finished; {
		select {
		case <-c.Done():
			finished = true
		case feedErr = <-feed:
			feed = nil
			if opts.Tick == "" || feedErr != nil {
				c.Cancel(true)
				finished = true
			}
		case <-ctx.Done():
			c.Cancel(true)
			finished = true
		}
	}
	cancelFeed()

	r, err := c.WaitForDone(context.Background())
	if err != nil {
		return none, err
	}
	report(out, r)
	if feedErr != nil && !errors.Is(feedErr, context.Canceled) {
		logger.Warn("signal source failed", slog.String("error", feedErr.Error()))
	}
	return r, nil
}

// report prints the outcome of a finished chart.
func report(w io.Writer, r async.Result[string]) {
	switch r.State {
	case async.Completed:
		fmt.Fprintf(w, "completed in %s\n", r.Value)
	case async.Failed:
		fmt.Fprintf(w, "failed: %v\n", r.Err)
	default:
		fmt.Fprintln(w, "cancelled")
	}
}

// timedHandler bounds the wait for the chart to accept each signal.
type timedHandler struct {
	chart   *statechart.Chart
	timeout time.Duration
}

func (h timedHandler) HandleSignal(ctx context.Context, sig schema.Signal) bool {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return h.chart.HandleSignal(ctx, sig)
}

// feedLines delivers one signal per non-empty input line until EOF.
func feedLines(ctx context.Context, in io.Reader, h wsdriver.SignalHandler) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		h.HandleSignal(ctx, parseLine(line))
	}
	return scanner.Err()
}

// parseLine turns an input line into a signal:
//
//	coin                  -> named signal "coin"
//	coin {"value": 25}    -> named signal "coin" with payload
//	"some text"           -> text signal
//	anything else         -> text signal with the whole line
func parseLine(line string) schema.Signal {
	if strings.HasPrefix(line, `"`) {
		var text string
		if err := json.Unmarshal([]byte(line), &text); err == nil {
			return schema.TextSignal(text)
		}
		return schema.TextSignal(line)
	}

	name, rest, _ := strings.Cut(line, " ")
	if !isName(name) {
		return schema.TextSignal(line)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return schema.Named(name, nil)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(rest), &payload); err != nil {
		return schema.TextSignal(line)
	}
	return schema.Named(name, payload)
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

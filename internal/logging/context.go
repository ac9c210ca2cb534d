package logging

import (
	"context"
	"log/slog"
	"maps"
)

type ctxKey int

const (
	executionIDKey ctxKey = iota
	chartKey
	stateKey
)

// WithExecutionID returns a context with the execution ID set.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithChart returns a context with the chart name set.
func WithChart(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, chartKey, name)
}

// WithState returns a context with the current state path set.
func WithState(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, stateKey, path)
}

// ExecutionID extracts the execution ID from the context, or "" if absent.
func ExecutionID(ctx context.Context) string {
	v, _ := ctx.Value(executionIDKey).(string)
	return v
}

// Chart extracts the chart name from the context, or "" if absent.
func Chart(ctx context.Context) string {
	v, _ := ctx.Value(chartKey).(string)
	return v
}

// State extracts the state path from the context, or "" if absent.
func State(ctx context.Context) string {
	v, _ := ctx.Value(stateKey).(string)
	return v
}

// WithIDs sets all three correlation values on the context at once.
func WithIDs(ctx context.Context, executionID, chart, state string) context.Context {
	ctx = WithExecutionID(ctx, executionID)
	ctx = WithChart(ctx, chart)
	ctx = WithState(ctx, state)
	return ctx
}

// LogWith returns a logger enriched with correlation values from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := ExecutionID(ctx); v != "" {
		out = append(out, slog.String("execution_id", v))
	}
	if v := Chart(ctx); v != "" {
		out = append(out, slog.String("chart", v))
	}
	if v := State(ctx); v != "" {
		out = append(out, slog.String("state", v))
	}
	return out
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation values from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically. A key already
// bound with logger.With, such as an execution logger's execution_id, is
// not injected again.
type CorrelationHandler struct {
	inner slog.Handler
	bound map[string]bool
}

// NewCorrelationHandler wraps the given handler with automatic correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, a := range attrs(ctx) {
		if !h.bound[a.Key] {
			r.AddAttrs(a)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := h.bound
	cloned := false
	for _, a := range attrs {
		if !isCorrelationKey(a.Key) || bound[a.Key] {
			continue
		}
		if !cloned {
			bound = maps.Clone(h.bound)
			if bound == nil {
				bound = make(map[string]bool, 1)
			}
			cloned = true
		}
		bound[a.Key] = true
	}
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs), bound: bound}
}

// WithGroup nests later attributes, so keys bound before the group still
// count as bound.
func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name), bound: h.bound}
}

func isCorrelationKey(key string) bool {
	switch key {
	case "execution_id", "chart", "state":
		return true
	}
	return false
}

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
// Unknown names default to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

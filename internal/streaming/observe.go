package streaming

import (
	"context"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/pkg/schema"
)

// Observe publishes the lifecycle transitions of e to hub: started, then one
// of completed, failed or cancelled. Events are published with ctx; once ctx
// is done they are dropped.
func Observe[T any](ctx context.Context, hub EventHub, e async.Execution[T], name string) {
	publish := func(eventType string, payload any) {
		_ = hub.Publish(ctx, StreamEvent{
			ExecutionID: e.ID(),
			Name:        name,
			EventType:   eventType,
			Payload:     payload,
		})
	}

	e.WhenStarted(func(context.Context) {
		publish(schema.EventExecutionStarted, nil)
	})
	e.WhenFinished(func(_ context.Context, r async.Result[T]) {
		switch r.State {
		case async.Completed:
			publish(schema.EventExecutionCompleted, map[string]any{"value": r.Value})
		case async.Failed:
			publish(schema.EventExecutionFailed, map[string]any{"error": r.Err.Error()})
		default:
			publish(schema.EventExecutionCancelled, nil)
		}
	})
}

// ChartObserver returns a chart observer publishing state and transition
// events to hub.
func ChartObserver(ctx context.Context, hub EventHub) statechart.Observer {
	return func(e statechart.Event) {
		payload := map[string]any{}
		if e.Signal != "" {
			payload["signal"] = e.Signal
		}
		if e.From != "" {
			payload["from"] = e.From
			payload["to"] = e.To
		}
		_ = hub.Publish(ctx, StreamEvent{
			ExecutionID: e.ExecutionID,
			Name:        e.Chart,
			State:       e.State,
			EventType:   e.Type,
			Payload:     payload,
			Time:        e.Time,
		})
	}
}

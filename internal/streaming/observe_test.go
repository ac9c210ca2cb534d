package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/internal/statechart"
	"github.com/rendis/asyncflow/pkg/schema"
)

func next(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

// --- Observe ---

func TestObserve_Lifecycle(t *testing.T) {
	tests := []struct {
		name   string
		finish func(e *async.EventDriven[int])
		want   string
	}{
		{"completed", func(e *async.EventDriven[int]) { e.NotifyCompleted(7) }, schema.EventExecutionCompleted},
		{"failed", func(e *async.EventDriven[int]) { e.NotifyFailed(errors.New("boom")) }, schema.EventExecutionFailed},
		{"cancelled", func(e *async.EventDriven[int]) { e.Cancel(true) }, schema.EventExecutionCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewMemoryHub()
			ctx := context.Background()
			e := async.NewEventDriven[int](nil)

			ch, cancel, err := hub.Subscribe(ctx, EventFilter{ExecutionID: e.ID()})
			require.NoError(t, err)
			defer cancel()

			Observe(ctx, hub, e, "job")
			require.NoError(t, e.Start())
			tt.finish(e)

			started := next(t, ch)
			assert.Equal(t, schema.EventExecutionStarted, started.EventType)
			assert.Equal(t, "job", started.Name)

			finished := next(t, ch)
			assert.Equal(t, tt.want, finished.EventType)
			assert.Equal(t, e.ID(), finished.ExecutionID)
		})
	}
}

func TestObserve_LateSubscriptionStillPublishes(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	e := async.NewEventDriven[string](nil)
	require.NoError(t, e.Start())
	e.NotifyCompleted("done")

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{schema.EventExecutionCompleted}})
	require.NoError(t, err)
	defer cancel()

	Observe(ctx, hub, e, "late")
	got := next(t, ch)
	assert.Equal(t, map[string]any{"value": "done"}, got.Payload)
}

// --- Charts ---

func TestChartObserver_PublishesTransitions(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{schema.EventChartTransition}})
	require.NoError(t, err)
	defer cancel()

	c, err := statechart.NewBuilder("switch").
		Add(statechart.Table("off").On("flip", statechart.To("on")), statechart.Sink("on")).
		Initial("off").Final("on").
		With(statechart.WithObserver(ChartObserver(ctx, hub))).
		Build()
	require.NoError(t, err)
	require.NoError(t, c.Start())
	c.Send(ctx, "flip", nil)

	got := next(t, ch)
	assert.Equal(t, "switch", got.Name)
	assert.Equal(t, c.ID(), got.ExecutionID)
	assert.Equal(t, map[string]any{"signal": "flip", "from": "off", "to": "on"}, got.Payload)
}

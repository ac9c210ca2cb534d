package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted by an execution or a chart.
type StreamEvent struct {
	ExecutionID string    `json:"execution_id"`
	Name        string    `json:"name,omitempty"`
	State       string    `json:"state,omitempty"`
	EventType   string    `json:"event_type"`
	Payload     any       `json:"payload,omitempty"`
	Time        time.Time `json:"time"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

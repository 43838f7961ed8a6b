// Package bus provides event bus implementations for benchmark lifecycle events.
package bus

import (
	"context"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "bench.model.started").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created.
	Timestamp int64 `json:"timestamp"`

	// RunID links all events belonging to one benchmark run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// Topics for benchmark lifecycle events.
const (
	// Run-level topics.
	TopicRunStarted  = "bench.run.started"
	TopicRunFinished = "bench.run.finished"

	// Per-model topics.
	TopicModelStarted  = "bench.model.started"
	TopicModelFinished = "bench.model.finished"

	// Encoding progress, published once per completed batch.
	TopicEncodeProgress = "bench.encode.progress"
)

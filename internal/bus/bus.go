// Package bus publishes benchmark lifecycle events.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
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

	// Type is the event type, equal to the topic it was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix millis).
	Timestamp int64 `json:"timestamp"`

	// RunID groups the events of one benchmark or ingest run.
	RunID string `json:"run_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(topic, source, runID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		RunID:     runID,
		Payload:   payload,
	}
}

// Topics for benchmark events.
const (
	// Benchmark runner topics.
	TopicBenchStarted = "bench.started"
	TopicBenchReport  = "bench.report"
	TopicBenchFailed  = "bench.failed"

	// Ingestion topics.
	TopicIngestBatch    = "ingest.batch"
	TopicIngestComplete = "ingest.complete"
)

// Topics lists every topic the harness publishes on.
var Topics = []string{
	TopicBenchStarted,
	TopicBenchReport,
	TopicBenchFailed,
	TopicIngestBatch,
	TopicIngestComplete,
}

// Publisher is the publishing half of a Bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, Event) error { return nil }

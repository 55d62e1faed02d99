package streaming

import (
	"context"
	"slices"
	"time"

	"github.com/rendis/jobflow/pkg/schema"
)

// TerminalEvents are the event types that end an execution.
var TerminalEvents = []string{
	schema.EventExecutionCompleted,
	schema.EventExecutionFailed,
	schema.EventExecutionStopped,
}

// IsTerminal reports whether eventType ends an execution.
func IsTerminal(eventType string) bool {
	return slices.Contains(TerminalEvents, eventType)
}

// StreamEvent is a real-time event emitted while a job executes.
type StreamEvent struct {
	ExecutionID string    `json:"execution_id"`
	JobName     string    `json:"job_name,omitempty"`
	Node        string    `json:"node,omitempty"`
	EventType   string    `json:"event_type"`
	Sequence    int64     `json:"sequence,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	JobName     string   `json:"job_name,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

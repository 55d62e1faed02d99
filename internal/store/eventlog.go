package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/jobflow/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// NodePayload is the payload of step events.
type NodePayload struct {
	Kind   string            `json:"kind,omitempty"`
	Flow   string            `json:"flow,omitempty"`
	Status schema.ExitStatus `json:"status,omitempty"`
	Fault  string            `json:"fault,omitempty"`
	Target string            `json:"target,omitempty"`
}

// Append records an event for an execution. The payload is marshaled to JSON.
func (el *EventLog) Append(ctx context.Context, executionID, node, eventType string, payload any) (*Event, error) {
	e := &Event{
		ExecutionID: executionID,
		Node:        node,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		e.Payload = data
	}
	if err := el.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetEvents returns events for an execution with sequence > since, ordered by sequence.
func (el *EventLog) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, executionID, since)
}

// NodeState is the state of one node path rebuilt from the event log.
type NodeState struct {
	Path       string            `json:"path"`
	State      schema.StepStatus `json:"state"`
	Status     schema.ExitStatus `json:"status,omitempty"`
	Fault      string            `json:"fault,omitempty"`
	Attempts   int               `json:"attempts"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
}

// Replay rebuilds per-node state from the event log of an execution.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, executionID string) (map[string]*NodeState, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeState)
	for _, e := range events {
		if e.Node == "" {
			continue
		}
		ns, ok := states[e.Node]
		if !ok {
			ns = &NodeState{Path: e.Node}
			states[e.Node] = ns
		}

		var p NodePayload
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &p)
		}
		ts := e.Timestamp

		switch e.Type {
		case schema.EventStepStarted:
			ns.State = schema.StepStatusStarted
			ns.Attempts++
			ns.StartedAt = &ts
			ns.EndedAt = nil
			ns.Status = ""
			ns.Fault = ""
		case schema.EventStepCompleted, schema.EventStepFailed, schema.EventStepReplayed:
			switch e.Type {
			case schema.EventStepCompleted:
				ns.State = schema.StepStatusCompleted
			case schema.EventStepFailed:
				ns.State = schema.StepStatusFailed
			default:
				ns.State = schema.StepStatusReplayed
			}
			ns.Status = p.Status
			ns.Fault = p.Fault
			ns.EndedAt = &ts
			if ns.StartedAt != nil {
				ns.DurationMs = ts.Sub(*ns.StartedAt).Milliseconds()
			}
		}
	}
	return states, nil
}

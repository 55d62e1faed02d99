package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store; used by FSMs to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey[S ~string] struct {
	from, to S
}

// lifecycle validates transitions against a table and emits one event per
// transition. ExecutionFSM and StepFSM are its two instantiations.
type lifecycle[S ~string] struct {
	mu       sync.Mutex
	kind     string
	table    map[S][]S
	events   func(S) string
	appender EventAppender
	before   map[hookKey[S]][]TransitionHook
	after    map[hookKey[S]][]TransitionHook
}

func newLifecycle[S ~string](kind string, table map[S][]S, events func(S) string, appender EventAppender) *lifecycle[S] {
	return &lifecycle[S]{
		kind:     kind,
		table:    table,
		events:   events,
		appender: appender,
		before:   make(map[hookKey[S]][]TransitionHook),
		after:    make(map[hookKey[S]][]TransitionHook),
	}
}

func (l *lifecycle[S]) onBefore(from, to S, hook TransitionHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := hookKey[S]{from, to}
	l.before[key] = append(l.before[key], hook)
}

func (l *lifecycle[S]) onAfter(from, to S, hook TransitionHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := hookKey[S]{from, to}
	l.after[key] = append(l.after[key], hook)
}

func (l *lifecycle[S]) valid(from, to S) bool {
	allowed, ok := l.table[from]
	return ok && slices.Contains(allowed, to)
}

func (l *lifecycle[S]) transition(ctx context.Context, executionID, node string, from, to S, payload any) error {
	l.mu.Lock()
	before := l.before[hookKey[S]{from, to}]
	after := l.after[hookKey[S]{from, to}]
	l.mu.Unlock()

	if !l.valid(from, to) {
		err := schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid %s transition: %s -> %s", l.kind, from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
		if node != "" {
			err = err.WithNode(node)
		}
		return err
	}

	for _, hook := range before {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := l.events(to); eventType != "" && l.appender != nil {
		event := &store.Event{
			ExecutionID: executionID,
			Node:        node,
			Type:        eventType,
		}
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "marshal %s event: %s", l.kind, err.Error()).WithCause(err)
			}
			event.Payload = data
		}
		if err := l.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit %s event: %s", l.kind, err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

// --- Execution FSM ---

// ExecutionFSM manages execution lifecycle state transitions.
type ExecutionFSM struct {
	l *lifecycle[schema.ExecutionStatus]
}

// NewExecutionFSM creates an ExecutionFSM that emits events via the given appender.
func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{l: newLifecycle("execution", ValidExecutionTransitions, executionEventType, appender)}
}

// OnBefore registers a hook called before an execution transition.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.l.onBefore(from, to, hook)
}

// OnAfter registers a hook called after an execution transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.l.onAfter(from, to, hook)
}

// Transition validates an execution state change and emits its event.
// The caller persists the new state.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, payload any) error {
	return f.l.transition(ctx, executionID, "", from, to, payload)
}

func executionEventType(to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStarted:
		return schema.EventExecutionStarted
	case schema.ExecutionCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionStopped:
		return schema.EventExecutionStopped
	default:
		return ""
	}
}

// --- Step FSM ---

// StepFSM manages node attempt state transitions.
type StepFSM struct {
	l *lifecycle[schema.StepStatus]
}

// NewStepFSM creates a StepFSM that emits events via the given appender.
func NewStepFSM(appender EventAppender) *StepFSM {
	return &StepFSM{l: newLifecycle("step", ValidStepTransitions, stepEventType, appender)}
}

// OnBefore registers a hook called before a step transition.
func (f *StepFSM) OnBefore(from, to schema.StepStatus, hook TransitionHook) {
	f.l.onBefore(from, to, hook)
}

// OnAfter registers a hook called after a step transition.
func (f *StepFSM) OnAfter(from, to schema.StepStatus, hook TransitionHook) {
	f.l.onAfter(from, to, hook)
}

// Transition validates a step state change for the node at path and emits its event.
func (f *StepFSM) Transition(ctx context.Context, executionID, path string, from, to schema.StepStatus, payload any) error {
	return f.l.transition(ctx, executionID, path, from, to, payload)
}

func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusStarted:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusReplayed:
		return schema.EventStepReplayed
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidExecutionTransitions defines the allowed state transitions for executions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStarting:  {schema.ExecutionStarted, schema.ExecutionFailed},
	schema.ExecutionStarted:   {schema.ExecutionCompleted, schema.ExecutionFailed, schema.ExecutionStopped},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
	schema.ExecutionStopped:   {},
}

// ValidStepTransitions defines the allowed state transitions for node attempts.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusStarted, schema.StepStatusReplayed},
	schema.StepStatusStarted:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
	schema.StepStatusReplayed:  {},
}

package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// Action is a named, reusable unit of step work. Definitions refer to actions
// by name; Bind turns one into the job.Action a Step runs.
type Action interface {
	Name() string
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// ActionSchema describes the input contract of an action.
type ActionSchema struct {
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time. Params
// are already interpolated; Context is the scope they were resolved against.
type ActionInput struct {
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context,omitempty"`
}

// ActionOutput is the result of an action execution.
// Data is published as the step's output. A non-empty Status overrides
// COMPLETED, and Effect runs in the repository transaction of the step.
type ActionOutput struct {
	Data   map[string]any    `json:"data,omitempty"`
	Status schema.ExitStatus `json:"status,omitempty"`
	Effect store.SideEffect  `json:"-"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

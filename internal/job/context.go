package job

import (
	"context"

	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// ExecutionContext is the read-only view a node gets of the running job:
// launch parameters plus the outputs of the nodes that ran before it.
type ExecutionContext interface {
	ExecutionID() string
	JobName() string
	Param(key string) (string, bool)
	Params() map[string]string
	Output(key string) (any, bool)
	Outputs() map[string]any
}

// Handle is a step's side-effect boundary. Values passed to Set become
// outputs visible to later nodes. Commit stages the step's status and the
// side effect that the repository applies in the same transaction as the
// status record. A handle accepts one Commit per invocation.
type Handle interface {
	Set(key string, value any)
	Commit(status schema.ExitStatus, effect store.SideEffect) error
}

// Action is the work a Step performs. Returning an error is a step fault.
// An action that returns nil without calling Commit completes with COMPLETED.
type Action interface {
	Execute(ctx context.Context, ec ExecutionContext, h Handle) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, ec ExecutionContext, h Handle) error

func (f ActionFunc) Execute(ctx context.Context, ec ExecutionContext, h Handle) error {
	return f(ctx, ec, h)
}

// Decision computes a branching status without side effects.
type Decision interface {
	Decide(ctx context.Context, ec ExecutionContext) (schema.ExitStatus, error)
}

// DecisionFunc adapts a function to Decision.
type DecisionFunc func(ctx context.Context, ec ExecutionContext) (schema.ExitStatus, error)

func (f DecisionFunc) Decide(ctx context.Context, ec ExecutionContext) (schema.ExitStatus, error) {
	return f(ctx, ec)
}

// StatusMapper rewrites a step's exit status after it ran and before
// transitions are resolved.
type StatusMapper func(ctx context.Context, ec ExecutionContext, status schema.ExitStatus) (schema.ExitStatus, error)

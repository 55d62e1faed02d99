package actions

import (
	"context"

	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// Bind adapts a registered action to the job.Action run by the step named
// node. On every invocation params are interpolated against the execution
// context, validated, and the action's Data is published under the node
// name, so later nodes read it as outputs.<node>.
func Bind(node string, a Action, params map[string]any) job.Action {
	return &boundAction{
		node:   node,
		action: a,
		params: params,
		interp: expressions.NewInterpolator(),
	}
}

type boundAction struct {
	node   string
	action Action
	params map[string]any
	interp *expressions.Interpolator
}

func (b *boundAction) Execute(ctx context.Context, ec job.ExecutionContext, h job.Handle) error {
	scope := expressions.NewScope(ec)
	params, err := b.interp.Resolve(b.params, scope)
	if err != nil {
		return err
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := b.action.Validate(params); err != nil {
		return err
	}

	out, err := b.action.Execute(ctx, ActionInput{Params: params, Context: scope.Data()})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if out.Data != nil {
		h.Set(b.node, out.Data)
	}
	if out.Status == "" && out.Effect == nil {
		return nil
	}
	status := out.Status
	if status == "" {
		status = schema.StatusCompleted
	}
	return h.Commit(status, out.Effect)
}

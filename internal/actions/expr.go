package actions

import (
	"context"

	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/pkg/schema"
)

// ExprActions returns all expression evaluation actions.
func ExprActions() []Action {
	return []Action{
		&evalAction{name: "expr.eval", engine: expressions.NewExprEngine()},
		&evalAction{name: "jq.eval", engine: expressions.NewGoJQEngine()},
	}
}

// --- expr.eval / jq.eval ---

// evalAction evaluates an expression against the step's scope (params,
// outputs, execution) plus an optional explicit "data" value. With
// "as_status" set, the result also becomes the step's exit status.
type evalAction struct {
	name   string
	engine expressions.Engine
}

func (a *evalAction) Name() string { return a.name }

func (a *evalAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Evaluate a " + a.engine.Name() + " expression against the current scope or explicit data",
	}
}

func (a *evalAction) Validate(params map[string]any) error {
	expr, ok := params["expression"].(string)
	if !ok || expr == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s requires non-empty 'expression' string parameter", a.name)
	}
	if v, ok := params["as_status"]; ok {
		if _, isBool := v.(bool); !isBool {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s 'as_status' must be a boolean", a.name)
		}
	}
	return nil
}

func (a *evalAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	expression, _ := input.Params["expression"].(string)

	scope := make(map[string]any, len(input.Context)+1)
	for k, v := range input.Context {
		scope[k] = v
	}
	if data, ok := input.Params["data"]; ok {
		scope["data"] = data
	}

	result, err := a.engine.Evaluate(ctx, expression, scope)
	if err != nil {
		return nil, err
	}

	out := &ActionOutput{Data: map[string]any{"result": result}}
	if asStatus, _ := input.Params["as_status"].(bool); asStatus {
		s, ok := result.(string)
		if !ok || s == "" {
			return nil, schema.NewErrorf(schema.ErrCodeExpression,
				"%s: result %v is not a non-empty string status", a.name, result)
		}
		out.Status = schema.ExitStatus(s)
	}
	return out, nil
}

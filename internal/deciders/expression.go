package deciders

import (
	"context"

	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// Expression evaluates an expression over the execution scope and uses the
// result as the status.
type Expression struct {
	engines    *expressions.Engines
	engine     string
	expression string
}

// NewExpression checks that engine exists and returns the decider.
func NewExpression(engines *expressions.Engines, engine, expression string) (*Expression, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expression decider requires an expression")
	}
	if _, err := engines.Get(engine); err != nil {
		return nil, err
	}
	return &Expression{engines: engines, engine: engine, expression: expression}, nil
}

// Decide implements job.Decision.
func (e *Expression) Decide(ctx context.Context, ec job.ExecutionContext) (schema.ExitStatus, error) {
	return e.engines.EvaluateStatus(ctx, e.engine, e.expression, expressions.NewScope(ec))
}

var _ job.Decision = (*Expression)(nil)

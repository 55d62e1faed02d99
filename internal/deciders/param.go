package deciders

import (
	"context"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// Param routes on the value of a job parameter. A missing or empty parameter
// yields Default, or a fault when Default is empty.
type Param struct {
	Name    string
	Default schema.ExitStatus
}

// Decide implements job.Decision.
func (p *Param) Decide(_ context.Context, ec job.ExecutionContext) (schema.ExitStatus, error) {
	if v, ok := ec.Param(p.Name); ok && v != "" {
		return schema.ExitStatus(v), nil
	}
	if p.Default != "" {
		return p.Default, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "parameter %q is not set", p.Name).
		WithDetails(map[string]any{"param": p.Name})
}

var _ job.Decision = (*Param)(nil)

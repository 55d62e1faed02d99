package expressions

import (
	"encoding/json"

	"github.com/rendis/jobflow/internal/job"
	"github.com/rendis/jobflow/pkg/schema"
)

// Scope is the data an expression or interpolation can see: the job's
// parameters, the outputs produced so far, execution metadata and, when
// mapping a step's exit status, the status being mapped.
// A Scope is a frozen copy; nodes running later do not change it.
type Scope struct {
	Params    map[string]string
	Outputs   map[string]any
	Execution map[string]any
	Status    schema.ExitStatus
}

// NewScope snapshots ec.
func NewScope(ec job.ExecutionContext) *Scope {
	return &Scope{
		Params:  ec.Params(),
		Outputs: deepCopyMap(ec.Outputs()),
		Execution: map[string]any{
			"id":  ec.ExecutionID(),
			"job": ec.JobName(),
		},
	}
}

// WithStatus returns a copy of s carrying status.
func (s *Scope) WithStatus(status schema.ExitStatus) *Scope {
	c := *s
	c.Status = status
	return &c
}

// Data returns the scope as the variable map engines evaluate against.
func (s *Scope) Data() map[string]any {
	params := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	outputs := s.Outputs
	if outputs == nil {
		outputs = map[string]any{}
	}
	execution := s.Execution
	if execution == nil {
		execution = map[string]any{}
	}
	return map[string]any{
		"params":    params,
		"outputs":   outputs,
		"execution": execution,
		"status":    string(s.Status),
	}
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/jobflow/pkg/schema"
)

// ExecutionRecord is the durable record of one job run. The engine owns it
// while the run is in progress and hands snapshots to the store at each
// step boundary.
type ExecutionRecord struct {
	ID          string                 `json:"id"`
	JobName     string                 `json:"job_name"`
	Parameters  map[string]string      `json:"parameters"`
	Steps       []StepExecutionRecord  `json:"steps"`
	Status      schema.ExecutionStatus `json:"status"`
	FinalStatus schema.ExitStatus      `json:"final_status,omitempty"`
	Fault       *schema.JobflowError   `json:"fault,omitempty"`
	ParentID    string                 `json:"parent_id,omitempty"`
	RestartOf   string                 `json:"restart_of,omitempty"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     *time.Time             `json:"end_time,omitempty"`
}

// Sequence returns the node paths of the record in order.
func (r *ExecutionRecord) Sequence() []string {
	out := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, s.Path)
	}
	return out
}

// Step returns the last record for the given path.
func (r *ExecutionRecord) Step(path string) (StepExecutionRecord, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Path == path {
			return r.Steps[i], true
		}
	}
	return StepExecutionRecord{}, false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Parameters = make(map[string]string, len(r.Parameters))
	for k, v := range r.Parameters {
		c.Parameters[k] = v
	}
	c.Steps = make([]StepExecutionRecord, len(r.Steps))
	for i, s := range r.Steps {
		c.Steps[i] = s.clone()
	}
	if r.Fault != nil {
		f := *r.Fault
		c.Fault = &f
	}
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	return &c
}

// StepExecutionRecord is one node invocation within an execution.
type StepExecutionRecord struct {
	AttemptID         string            `json:"attempt_id"`
	Name              string            `json:"name"`
	Path              string            `json:"path"`
	Kind              string            `json:"kind"`
	Flow              string            `json:"flow,omitempty"`
	State             schema.StepStatus `json:"state"`
	Status            schema.ExitStatus `json:"status,omitempty"`
	Fault             string            `json:"fault,omitempty"`
	Outputs           map[string]any    `json:"outputs,omitempty"`
	NestedExecutionID string            `json:"nested_execution_id,omitempty"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           *time.Time        `json:"end_time,omitempty"`
}

// Replayable reports whether a restart may reuse this record instead of
// running the node again.
func (s StepExecutionRecord) Replayable() bool {
	return (s.State == schema.StepStatusCompleted || s.State == schema.StepStatusReplayed) &&
		s.Status != schema.StatusFailed && s.Status != schema.StatusStopped
}

func (s StepExecutionRecord) clone() StepExecutionRecord {
	c := s
	if s.Outputs != nil {
		c.Outputs = make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			c.Outputs[k] = v
		}
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return c
}

// Event is an immutable entry in the execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Node        string          `json:"node,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	JobName string                  `json:"job_name,omitempty"`
	Status  *schema.ExecutionStatus `json:"status,omitempty"`
	Since   *time.Time              `json:"since,omitempty"`
	// TopLevel excludes executions of nested jobs.
	TopLevel bool `json:"top_level,omitempty"`
	Limit    int  `json:"limit,omitempty"`
	Offset   int  `json:"offset,omitempty"`
}

func (f ExecutionFilter) match(r *ExecutionRecord) bool {
	if f.JobName != "" && r.JobName != f.JobName {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Since != nil && r.StartTime.Before(*f.Since) {
		return false
	}
	if f.TopLevel && r.ParentID != "" {
		return false
	}
	return true
}

// page applies offset and limit to records already sorted newest first.
func (f ExecutionFilter) page(recs []*ExecutionRecord) []*ExecutionRecord {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return nil
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	return recs
}

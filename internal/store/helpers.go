package store

import (
	"sort"
	"time"

	"github.com/rendis/jobflow/pkg/schema"
)

func storeNotFound(resource, id string) *schema.JobflowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

// effectFault reports a side effect that refused to commit. The attempt stays
// open so the engine can record the failure in its place.
func effectFault(attemptID string, err error) *schema.JobflowError {
	return schema.NewErrorf(schema.ErrCodeStepFault, "side effect of attempt %s failed: %s", attemptID, err.Error()).
		WithCause(err)
}

// commitFailed wraps a storage failure. Effect faults pass through unchanged.
func commitFailed(op string, err error) error {
	if jfErr, ok := schema.AsJobflowError(err); ok &&
		(jfErr.Code == schema.ErrCodeStepFault || jfErr.Code == schema.ErrCodeNotFound || jfErr.Code == schema.ErrCodeConflict) {
		return jfErr
	}
	return schema.NewErrorf(schema.ErrCodeRepositoryCommit, "%s: %s", op, err.Error()).WithCause(err)
}

func alreadyRecorded(attemptID string) *schema.JobflowError {
	return schema.NewErrorf(schema.ErrCodeConflict, "attempt %s already recorded", attemptID)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// attemptRow is the persisted form of an attempt shared by the stores.
type attemptRow struct {
	ID          string               `json:"id"`
	ExecutionID string               `json:"execution_id"`
	JobName     string               `json:"job_name"`
	StepName    string               `json:"step_name"`
	Seq         int64                `json:"seq"`
	StartedAt   time.Time            `json:"started_at"`
	Record      *StepExecutionRecord `json:"record,omitempty"`
}

// toStep returns the attempt as a step record. Attempts that never reported
// come back in STARTED state so a restart runs them again.
func (a *attemptRow) toStep() StepExecutionRecord {
	if a.Record != nil {
		s := a.Record.clone()
		s.AttemptID = a.ID
		return s
	}
	return StepExecutionRecord{
		AttemptID: a.ID,
		Name:      a.StepName,
		Path:      a.StepName,
		State:     schema.StepStatusStarted,
		StartTime: a.StartedAt,
	}
}

// mergeAttempts appends attempts the last snapshot does not know about yet,
// which happens when a crash lands between a commit and the next snapshot.
func mergeAttempts(rec *ExecutionRecord, attempts []*attemptRow) {
	known := make(map[string]bool, len(rec.Steps))
	for _, s := range rec.Steps {
		known[s.AttemptID] = true
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Seq < attempts[j].Seq })
	for _, a := range attempts {
		if known[a.ID] {
			continue
		}
		rec.Steps = append(rec.Steps, a.toStep())
	}
}

func incomplete(r *ExecutionRecord) bool {
	return r.ParentID == "" && r.Status != schema.ExecutionCompleted
}

// sortNewestFirst orders executions by start time, newest first.
func sortNewestFirst(recs []*ExecutionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].StartTime.After(recs[j].StartTime)
	})
}

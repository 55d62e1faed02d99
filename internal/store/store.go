package store

import "context"

// Tx is the transactional scope a step's side effect runs in. Writes become
// visible only if the status record of the same attempt commits.
type Tx interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
}

// SideEffect is the durable work of a step, applied atomically with the
// step's result. Returning an error rolls back both.
type SideEffect func(tx Tx) error

// StepRepository is the persistence boundary of the engine. RecordResult
// must commit the side effect and the step record together or not at all,
// which is what makes restart from the point of failure safe.
type StepRepository interface {
	// BeginAttempt registers a node invocation and returns its attempt ID.
	BeginAttempt(ctx context.Context, executionID, jobName, stepName string) (string, error)
	// RecordResult seals an attempt. A failing commit returns a STEP_FAULT
	// error and leaves the attempt open; storage failures are REPOSITORY_COMMIT.
	RecordResult(ctx context.Context, attemptID string, rec *StepExecutionRecord, commit SideEffect) error
	// LoadLastIncompleteAttempt returns the newest top-level execution of the
	// job if it did not complete, or nil when the newest one completed or
	// the job never ran.
	LoadLastIncompleteAttempt(ctx context.Context, jobName string) (*ExecutionRecord, error)
}

// Store is the full persistence contract: the step repository plus
// execution snapshots, committed side-effect values and the event log.
// All implementations must be safe for concurrent use.
type Store interface {
	StepRepository

	// Executions
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)

	// Committed side-effect values
	GetValue(ctx context.Context, key string) ([]byte, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

package schema

// Event type constants for the execution event log.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionStopped   = "execution_stopped"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepReplayed  = "step_replayed"

	EventTransition       = "transition"
	EventSplitStarted     = "split_started"
	EventSplitJoined      = "split_joined"
	EventNestedJobStarted = "nested_job_started"
)

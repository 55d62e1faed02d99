package schema

// ExitStatus is the opaque outcome produced by a node invocation. The three
// reserved values end a job when no transition rule routes them further.
type ExitStatus string

const (
	StatusCompleted ExitStatus = "COMPLETED"
	StatusFailed    ExitStatus = "FAILED"
	StatusStopped   ExitStatus = "STOPPED"

	// StatusUnknown marks a record whose node never reported.
	StatusUnknown ExitStatus = "UNKNOWN"
)

// Wildcard is the transition pattern matching any status without a literal rule.
const Wildcard = "*"

// IsReserved reports whether s is one of the job-terminating statuses.
func (s ExitStatus) IsReserved() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

func (s ExitStatus) String() string { return string(s) }

// ExecutionStatus is the lifecycle state of a job execution.
type ExecutionStatus string

const (
	ExecutionStarting  ExecutionStatus = "STARTING"
	ExecutionStarted   ExecutionStatus = "STARTED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionStopped   ExecutionStatus = "STOPPED"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionStopped
}

// Valid reports whether s is a known lifecycle state.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStarting, ExecutionStarted, ExecutionCompleted, ExecutionFailed, ExecutionStopped:
		return true
	default:
		return false
	}
}

// ExecutionStatusFor maps a final exit status to the lifecycle state it seals.
// Custom statuses never end a run successfully on their own.
func ExecutionStatusFor(s ExitStatus) ExecutionStatus {
	switch s {
	case StatusCompleted:
		return ExecutionCompleted
	case StatusStopped:
		return ExecutionStopped
	default:
		return ExecutionFailed
	}
}

// StepStatus is the lifecycle state of a single node attempt.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusStarted   StepStatus = "STARTED"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusReplayed  StepStatus = "REPLAYED"
)

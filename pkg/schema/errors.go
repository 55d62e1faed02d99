package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeUnresolvedTransition = "UNRESOLVED_TRANSITION"
	ErrCodeStepFault            = "STEP_FAULT"
	ErrCodeAmbiguousTransition  = "AMBIGUOUS_TRANSITION"
	ErrCodeRepositoryCommit     = "REPOSITORY_COMMIT"

	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeHandleUsed        = "HANDLE_USED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeNotRestartable    = "NOT_RESTARTABLE"
	ErrCodeExpression        = "EXPRESSION_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
)

// JobflowError is the structured error type for all jobflow operations.
type JobflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Node    string         `json:"node,omitempty"`
	Cause   error          `json:"-"`
}

func (e *JobflowError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.Node, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *JobflowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new JobflowError.
func NewError(code, message string) *JobflowError {
	return &JobflowError{Code: code, Message: message}
}

// NewErrorf creates a new JobflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *JobflowError {
	return &JobflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the name of the node that produced the error.
func (e *JobflowError) WithNode(node string) *JobflowError {
	e.Node = node
	return e
}

// WithCause attaches an underlying cause.
func (e *JobflowError) WithCause(err error) *JobflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *JobflowError) WithDetails(details map[string]any) *JobflowError {
	e.Details = details
	return e
}

// AsJobflowError unwraps err into a *JobflowError if one is in the chain.
func AsJobflowError(err error) (*JobflowError, bool) {
	var jfErr *JobflowError
	if errors.As(err, &jfErr) {
		return jfErr, true
	}
	return nil, false
}

// IsCode reports whether err carries a JobflowError with the given code.
func IsCode(err error, code string) bool {
	jfErr, ok := AsJobflowError(err)
	return ok && jfErr.Code == code
}

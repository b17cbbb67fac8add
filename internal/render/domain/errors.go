package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when the status endpoint does not know the
	// task yet. Registration on the remote side can lag job creation, so the
	// poller treats this as pending rather than a failure.
	ErrTaskNotFound = errors.New("task not found")

	// ErrPromptNotFound is returned when a prompt record is not in the registry.
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrSessionNotFound is returned when a session is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrReferenceNotReady is returned when a reference image could not be
	// made URL-addressable. It never blocks the rest of the session.
	ErrReferenceNotReady = errors.New("reference image not ready")
)

// SubmissionError means job creation failed at the HTTP level (network,
// auth, or an upstream error code). It is surfaced to the caller and never
// retried automatically.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("job submission failed (%d): %s", e.StatusCode, e.Message)
	}
	return "job submission failed: " + e.Message
}

// ProtocolError means a response carried a success signal but no
// recognizable job id or result field. The raw payload is kept for logs.
type ProtocolError struct {
	Reason  string
	Payload string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// ResultMissingError means the remote reported success but no usable result
// URL could be decoded. Treated as a failure, never as still-pending.
type ResultMissingError struct {
	TaskID string
}

func (e *ResultMissingError) Error() string {
	return fmt.Sprintf("task %s reported success but no result url was found", e.TaskID)
}

// TimeoutError means the poll attempt budget ran out while the task was
// still pending. The job may still complete server-side, so the record stays
// retryable by the user.
type TimeoutError struct {
	TaskID   string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s still pending after %d poll attempts", e.TaskID, e.Attempts)
}

// JobInFlightError means a render was requested for a prompt whose previous
// job is still being polled. This is a contract violation by the caller, not
// an end-user failure.
type JobInFlightError struct {
	PromptID string
	TaskID   string
}

func (e *JobInFlightError) Error() string {
	return fmt.Sprintf("prompt %s already has job %s in flight", e.PromptID, e.TaskID)
}

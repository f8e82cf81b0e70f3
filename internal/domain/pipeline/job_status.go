package pipeline

import "fmt"

// JobStatus represents the current state of a job. It enables tracking of
// job lifecycle from submission through completion, failure or cancellation.
type JobStatus string

const (
	// JobStatusQueued indicates a job has been created but not yet started.
	JobStatusQueued JobStatus = "QUEUED"

	// JobStatusInProgress indicates a job is actively moving through stages.
	JobStatusInProgress JobStatus = "IN_PROGRESS"

	// JobStatusCompleted indicates all stages finished successfully.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed indicates the job encountered an unrecoverable error.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled indicates the job was cancelled externally.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string { return string(s) }

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// validTransitions defines the allowed status transitions. Terminal statuses
// have no outgoing edges.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusInProgress, JobStatusCancelled, JobStatusFailed},
	JobStatusInProgress: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransitionTo reports whether a transition from s to target is allowed.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return JobStatus(s), nil
	default:
		return "", fmt.Errorf("unknown job status: %q", s)
	}
}

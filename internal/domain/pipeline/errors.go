package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPrerequisiteMissing signals that a stage's upstream artifacts no longer
// exist, so resuming from the checkpoint would produce garbage. Recovery
// fails the job instead of retrying forever.
var ErrPrerequisiteMissing = errors.New("stage prerequisite missing")

// ErrJobNotFound signals that the requested job does not exist in the
// registry.
var ErrJobNotFound = errors.New("job not found")

// TransientError marks a network or timeout class failure from an external
// call. Transient errors are eligible for retry.
type TransientError struct {
	err error
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) *TransientError { return &TransientError{err: err} }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.err }

// IsTransient reports whether err is classified as transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PermanentError marks a failure that will not succeed on retry, such as
// malformed input. It surfaces as job FAILED.
type PermanentError struct {
	Reason string
	err    error
}

// NewPermanentError wraps err as permanent with a human-readable reason.
func NewPermanentError(reason string, err error) *PermanentError {
	return &PermanentError{Reason: reason, err: err}
}

func (e *PermanentError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("permanent: %s", e.Reason)
	}
	return fmt.Sprintf("permanent: %s: %v", e.Reason, e.err)
}

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// CircuitOpenError is the fail-fast signal returned when a dependency's
// breaker is open. No network or IO is attempted. It is never retried.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q (retry after %s)", e.Dependency, e.RetryAfter)
}

// IsCircuitOpen reports whether err signals an open circuit.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// CheckpointCorruptError marks a malformed or unreadable checkpoint record.
// Callers discard the record and restart the stage from zero rather than
// risk an incorrect resume.
type CheckpointCorruptError struct {
	JobID uuid.UUID
	Stage Stage
	err   error
}

// NewCheckpointCorruptError wraps err as a corrupt-checkpoint failure.
func NewCheckpointCorruptError(jobID uuid.UUID, stage Stage, err error) *CheckpointCorruptError {
	return &CheckpointCorruptError{JobID: jobID, Stage: stage, err: err}
}

func (e *CheckpointCorruptError) Error() string {
	return fmt.Sprintf("corrupt checkpoint (job_id: %s, stage: %s): %v", e.JobID, e.Stage, e.err)
}

// Unwrap returns the underlying error.
func (e *CheckpointCorruptError) Unwrap() error { return e.err }

// IsCheckpointCorrupt reports whether err marks a corrupt checkpoint.
func IsCheckpointCorrupt(err error) bool {
	var ce *CheckpointCorruptError
	return errors.As(err, &ce)
}

// StoreUnavailableError marks the checkpoint backing store as unreachable.
// It is non-fatal: the stage proceeds without checkpointing for this attempt.
type StoreUnavailableError struct {
	Op  string
	err error
}

// NewStoreUnavailableError wraps err from the named store operation.
func NewStoreUnavailableError(op string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, err: err}
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("checkpoint store unavailable during %s: %v", e.Op, e.err)
}

// Unwrap returns the underlying error.
func (e *StoreUnavailableError) Unwrap() error { return e.err }

// IsStoreUnavailable reports whether err marks the store as unreachable.
func IsStoreUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}

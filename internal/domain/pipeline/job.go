package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobSize captures the size parameters of a job that drive its timeout
// budget: how many clips it needs, how long the narration audio runs, and
// whether the output is portrait (vertical crops require extra passes).
type JobSize struct {
	ItemCount            int
	MediaDurationSeconds float64
	Portrait             bool
}

// Job represents one end-to-end processing request moving through the
// ordered stage list. The job registry owns the canonical record; the
// resilience core reads status and timestamps and writes status transitions
// during recovery.
type Job struct {
	jobID  uuid.UUID
	stage  Stage
	status JobStatus
	size   JobSize

	createdAt time.Time
	updatedAt time.Time

	recoveryAttempts int
	failureReason    string
}

// NewJob creates a queued job at the initial stage.
func NewJob(jobID uuid.UUID, size JobSize) *Job {
	now := time.Now().UTC()
	return &Job{
		jobID:     jobID,
		stage:     StageInit,
		status:    JobStatusQueued,
		size:      size,
		createdAt: now,
		updatedAt: now,
	}
}

// ReconstructJob creates a Job instance from persisted data. This should
// only be used by repositories when reconstructing from storage.
func ReconstructJob(
	jobID uuid.UUID,
	stage Stage,
	status JobStatus,
	size JobSize,
	createdAt, updatedAt time.Time,
	recoveryAttempts int,
	failureReason string,
) *Job {
	return &Job{
		jobID:            jobID,
		stage:            stage,
		status:           status,
		size:             size,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
		recoveryAttempts: recoveryAttempts,
		failureReason:    failureReason,
	}
}

// JobID returns the unique identifier for this job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// Stage returns the stage the job is currently in.
func (j *Job) Stage() Stage { return j.stage }

// Status returns the job's current status.
func (j *Job) Status() JobStatus { return j.status }

// Size returns the job's size parameters.
func (j *Job) Size() JobSize { return j.size }

// CreatedAt returns the time the job was created.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// UpdatedAt returns the time the job's progress last advanced.
func (j *Job) UpdatedAt() time.Time { return j.updatedAt }

// RecoveryAttempts returns how many times recovery has been attempted for
// the job's current stage.
func (j *Job) RecoveryAttempts() int { return j.recoveryAttempts }

// FailureReason returns the human-readable cause recorded on a terminal
// FAILED transition, or the empty string.
func (j *Job) FailureReason() string { return j.failureReason }

// UpdateStatus transitions the job to a new status after validating the
// transition is allowed.
func (j *Job) UpdateStatus(target JobStatus) error {
	if !j.status.CanTransitionTo(target) {
		return fmt.Errorf("invalid job status transition %s -> %s (job_id: %s)", j.status, target, j.jobID)
	}
	j.status = target
	j.updatedAt = time.Now().UTC()
	return nil
}

// Fail transitions the job to FAILED and records the cause. Every terminal
// failure carries a reason.
func (j *Job) Fail(reason string) error {
	if err := j.UpdateStatus(JobStatusFailed); err != nil {
		return err
	}
	j.failureReason = reason
	return nil
}

// AdvanceStage moves the job to the next stage in the progression. The
// recovery-attempt budget is per stage, so the counter starts over at zero.
func (j *Job) AdvanceStage() error {
	next, ok := j.stage.Next()
	if !ok {
		return fmt.Errorf("job %s cannot advance past stage %s", j.jobID, j.stage)
	}
	j.stage = next
	j.recoveryAttempts = 0
	j.updatedAt = time.Now().UTC()
	return nil
}

// IncrementRecoveryAttempts records one more recovery attempt for the
// current stage and returns the new count.
func (j *Job) IncrementRecoveryAttempts() int {
	j.recoveryAttempts++
	return j.recoveryAttempts
}

// Touch advances updated_at so the orphan scanner does not re-flag the job
// while recovery is in flight.
func (j *Job) Touch() { j.updatedAt = time.Now().UTC() }

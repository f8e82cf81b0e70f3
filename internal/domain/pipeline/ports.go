package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WorkItem is one unit of batch work within a stage, such as a single clip
// to download. Stages project items to identifiers so checkpoints can record
// which ones are already done.
type WorkItem interface {
	ItemID() string
}

// CheckpointStore persists per-(job, stage) progress with expiry.
//
// Save is an idempotent overwrite; concurrent writers are last-write-wins.
// A StoreUnavailableError from Save is non-fatal to the caller.
// Load returns (nil, nil) when no live checkpoint exists; a corrupt record
// yields a CheckpointCorruptError and must be treated as absent.
type CheckpointStore interface {
	Save(ctx context.Context, checkpoint *Checkpoint) error
	Load(ctx context.Context, jobID uuid.UUID, stage Stage) (*Checkpoint, error)
	Remaining(ctx context.Context, jobID uuid.UUID, stage Stage, items []WorkItem) ([]WorkItem, error)
	Clear(ctx context.Context, jobID uuid.UUID, stage Stage) error
}

// JobRegistry exposes the job records owned by the pipeline's job service.
// The resilience core reads status and timestamps and writes status
// transitions during recovery.
type JobRegistry interface {
	// GetJob returns the current job record.
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	// ListStale returns jobs with status IN_PROGRESS whose updated_at is at
	// or before the cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// UpdateStatus transitions the job's status. A FAILED transition records
	// reason as the job's failure cause.
	UpdateStatus(ctx context.Context, jobID uuid.UUID, status JobStatus, reason string) error

	// Touch bumps the job's updated_at to now.
	Touch(ctx context.Context, jobID uuid.UUID) error

	// IncrementRecoveryAttempts adds one recovery attempt to the job and
	// returns the new count.
	IncrementRecoveryAttempts(ctx context.Context, jobID uuid.UUID) (int, error)
}

// StageExecutor performs the actual content work for one stage: searching,
// downloading, validating or assembling clips. It lives outside this core.
type StageExecutor interface {
	Execute(ctx context.Context, job *Job, remaining []WorkItem) error
}

// ResumeCommand carries everything a stage executor needs to pick a job back
// up: which stage to run and which item IDs are still outstanding. An empty
// RemainingIDs means the stage restarts from the beginning.
type ResumeCommand struct {
	JobID        uuid.UUID
	Stage        Stage
	RemainingIDs []string
	Attempt      int
	Timeout      time.Duration
}

// JobResubmitter hands recovered work back to the stage-executor fleet.
type JobResubmitter interface {
	Resubmit(ctx context.Context, cmd ResumeCommand) error
}

// ManifestStore exposes the item batch each stage operates on. The manifest
// is an upstream artifact produced by the preceding stage; its absence means
// the stage's prerequisites are gone and resuming would be meaningless.
type ManifestStore interface {
	// Items returns the full batch for the stage, or ErrPrerequisiteMissing
	// when the manifest no longer exists.
	Items(ctx context.Context, jobID uuid.UUID, stage Stage) ([]WorkItem, error)
}

// PrerequisiteChecker validates that the upstream artifacts a checkpoint
// refers to still exist before a stage is resumed. A missing prerequisite
// surfaces as ErrPrerequisiteMissing.
type PrerequisiteChecker interface {
	Validate(ctx context.Context, job *Job, checkpoint *Checkpoint) error
}

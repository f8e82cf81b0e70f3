// Package recovery detects jobs whose progress has stalled and resumes them
// from their last checkpoint.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/clipforge/internal/app/resilience"
	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/pkg/common/logger"
)

// Recoverer resumes a single stalled job.
type Recoverer interface {
	// Recover determines the correct resume point for the job and re-enqueues
	// only the remaining work. A returned error means recovery should be
	// retried on a later scan cycle; handled outcomes (job skipped, job
	// failed terminally) return nil.
	Recover(ctx context.Context, job *pipeline.Job) error
}

const defaultMaxRecoveryAttempts = 3

// coordinator implements Recoverer. Given a stalled job it re-reads the
// authoritative record, loads the stage checkpoint, computes the remaining
// portion of the batch and hands it back to the stage-executor fleet.
type coordinator struct {
	checkpoints pipeline.CheckpointStore
	registry    pipeline.JobRegistry
	manifests   pipeline.ManifestStore
	resubmitter pipeline.JobResubmitter

	// prereqs optionally validates artifacts beyond the stage manifest.
	prereqs pipeline.PrerequisiteChecker

	timeouts resilience.TimeoutPolicy

	// maxAttempts bounds recovery attempts per job before it is failed
	// terminally.
	maxAttempts int

	metrics Metrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

var _ Recoverer = (*coordinator)(nil)

// CoordinatorOption configures a coordinator.
type CoordinatorOption func(*coordinator)

// WithMaxRecoveryAttempts overrides the per-job recovery attempt bound.
func WithMaxRecoveryAttempts(n int) CoordinatorOption {
	return func(c *coordinator) { c.maxAttempts = n }
}

// WithPrerequisiteChecker adds artifact validation beyond the stage
// manifest check.
func WithPrerequisiteChecker(pc pipeline.PrerequisiteChecker) CoordinatorOption {
	return func(c *coordinator) { c.prereqs = pc }
}

// NewCoordinator returns a Recoverer wired to the given collaborators.
func NewCoordinator(
	checkpoints pipeline.CheckpointStore,
	registry pipeline.JobRegistry,
	manifests pipeline.ManifestStore,
	resubmitter pipeline.JobResubmitter,
	timeouts resilience.TimeoutPolicy,
	metrics Metrics,
	tracer trace.Tracer,
	logger *logger.Logger,
	opts ...CoordinatorOption,
) *coordinator {
	logger = logger.With("component", "recovery_coordinator")
	c := &coordinator{
		checkpoints: checkpoints,
		registry:    registry,
		manifests:   manifests,
		resubmitter: resubmitter,
		timeouts:    timeouts,
		maxAttempts: defaultMaxRecoveryAttempts,
		metrics:     metrics,
		tracer:      tracer,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recover resumes one stalled job from its checkpoint.
func (c *coordinator) Recover(ctx context.Context, job *pipeline.Job) error {
	logr := logger.NewLoggerContext(c.logger)
	logr.Add("job_id", job.JobID(), "stage", job.Stage())

	ctx, span := c.tracer.Start(ctx, "recovery_coordinator.recover",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("stage", job.Stage().String()),
		),
	)
	defer span.End()

	c.metrics.IncRecoveryAttempted(ctx)

	// Re-read the authoritative record: an external cancellation must be
	// observed here, before any resubmission.
	current, err := c.registry.GetJob(ctx, job.JobID())
	if err != nil {
		c.metrics.IncRecoveryFailed(ctx, "registry_unavailable")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to re-read job")
		return fmt.Errorf("failed to re-read job %s: %w", job.JobID(), err)
	}

	if current.Status() != pipeline.JobStatusInProgress {
		logr.Info(ctx, "Job no longer eligible for recovery, skipping", "status", current.Status())
		span.AddEvent("job_ineligible", trace.WithAttributes(
			attribute.String("status", current.Status().String()),
		))
		return nil
	}

	attempts, err := c.registry.IncrementRecoveryAttempts(ctx, current.JobID())
	if err != nil {
		c.metrics.IncRecoveryFailed(ctx, "registry_unavailable")
		span.RecordError(err)
		return fmt.Errorf("failed to count recovery attempt for job %s: %w", current.JobID(), err)
	}
	logr.Add("recovery_attempt", attempts)

	if attempts > c.maxAttempts {
		reason := fmt.Sprintf("recovery abandoned after %d attempts in stage %s", attempts-1, current.Stage())
		logr.Warn(ctx, "Recovery attempt budget exhausted, failing job")
		span.AddEvent("recovery_budget_exhausted")

		if err := c.registry.UpdateStatus(ctx, current.JobID(), pipeline.JobStatusFailed, reason); err != nil {
			c.metrics.IncRecoveryFailed(ctx, "registry_unavailable")
			span.RecordError(err)
			return fmt.Errorf("failed to fail job %s: %w", current.JobID(), err)
		}
		c.metrics.IncRecoveryFailed(ctx, "attempts_exhausted")
		return nil
	}

	checkpoint, err := c.loadCheckpoint(ctx, logr, current)
	if err != nil {
		c.metrics.IncRecoveryFailed(ctx, "checkpoint_store_unavailable")
		span.RecordError(err)
		return err
	}

	remainingIDs, err := c.remainingWork(ctx, current, checkpoint)
	if err != nil {
		if errors.Is(err, pipeline.ErrPrerequisiteMissing) {
			// Resuming without upstream artifacts would retry forever; fail
			// the job with a cause instead.
			reason := fmt.Sprintf("stage %s prerequisites missing: %v", current.Stage(), err)
			logr.Warn(ctx, "Stage prerequisites missing, failing job", "err", err)
			span.AddEvent("prerequisites_missing")

			if uerr := c.registry.UpdateStatus(ctx, current.JobID(), pipeline.JobStatusFailed, reason); uerr != nil {
				c.metrics.IncRecoveryFailed(ctx, "registry_unavailable")
				span.RecordError(uerr)
				return fmt.Errorf("failed to fail job %s: %w", current.JobID(), uerr)
			}
			c.metrics.IncRecoveryFailed(ctx, "prerequisite_missing")
			return nil
		}
		c.metrics.IncRecoveryFailed(ctx, "manifest_unavailable")
		span.RecordError(err)
		return err
	}

	cmd := pipeline.ResumeCommand{
		JobID:        current.JobID(),
		Stage:        current.Stage(),
		RemainingIDs: remainingIDs,
		Attempt:      attempts,
		Timeout:      c.timeouts.Compute(current.Size()).ForStage(current.Stage()),
	}

	if err := c.resubmitter.Resubmit(ctx, cmd); err != nil {
		c.metrics.IncRecoveryFailed(ctx, "resubmit_rejected")
		span.RecordError(err)
		span.SetStatus(codes.Error, "resubmission rejected")
		return fmt.Errorf("failed to resubmit job %s: %w", current.JobID(), err)
	}

	// Bump updated_at right away so the next scan does not re-flag the job
	// while the executor is picking it up.
	if err := c.registry.Touch(ctx, current.JobID()); err != nil {
		logr.Warn(ctx, "Failed to bump job updated_at after resubmit", "err", err)
		span.RecordError(err)
	}

	c.metrics.IncRecoverySucceeded(ctx)
	logr.Info(ctx, "Job resubmitted", "remaining_items", len(remainingIDs))
	span.AddEvent("job_resubmitted", trace.WithAttributes(
		attribute.Int("remaining_items", len(remainingIDs)),
	))
	span.SetStatus(codes.Ok, "job resubmitted")
	return nil
}

// loadCheckpoint fetches the job's stage checkpoint. A corrupt record is
// discarded so the stage restarts from zero; an unreachable store is a
// retryable recovery failure.
func (c *coordinator) loadCheckpoint(
	ctx context.Context,
	logr *logger.LoggerContext,
	job *pipeline.Job,
) (*pipeline.Checkpoint, error) {
	checkpoint, err := c.checkpoints.Load(ctx, job.JobID(), job.Stage())
	if err != nil {
		if pipeline.IsCheckpointCorrupt(err) {
			logr.Warn(ctx, "Checkpoint corrupt, restarting stage from zero", "err", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint for job %s: %w", job.JobID(), err)
	}
	return checkpoint, nil
}

// remainingWork computes the item IDs still outstanding for the job's
// current stage. Without a checkpoint the whole batch remains.
func (c *coordinator) remainingWork(
	ctx context.Context,
	job *pipeline.Job,
	checkpoint *pipeline.Checkpoint,
) ([]string, error) {
	items, err := c.manifests.Items(ctx, job.JobID(), job.Stage())
	if err != nil {
		if errors.Is(err, pipeline.ErrPrerequisiteMissing) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load stage manifest for job %s: %w", job.JobID(), err)
	}

	if c.prereqs != nil && checkpoint != nil {
		if err := c.prereqs.Validate(ctx, job, checkpoint); err != nil {
			return nil, err
		}
	}

	remaining := pipeline.RemainingItems(checkpoint, items)
	ids := make([]string, 0, len(remaining))
	for _, item := range remaining {
		ids = append(ids, item.ItemID())
	}
	return ids, nil
}

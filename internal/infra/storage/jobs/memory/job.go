// Package memory provides an in-memory job registry for tests and
// single-process runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

var _ pipeline.JobRegistry = (*JobStore)(nil)

// ErrJobNotFound is returned when the requested job does not exist.
var ErrJobNotFound = pipeline.ErrJobNotFound

// jobRecord is the mutable persisted form of a job.
type jobRecord struct {
	stage            pipeline.Stage
	status           pipeline.JobStatus
	size             pipeline.JobSize
	createdAt        time.Time
	updatedAt        time.Time
	recoveryAttempts int
	failureReason    string
}

// JobStore keeps job records in a map guarded by a mutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*jobRecord

	// now is swappable so tests can control staleness.
	now func() time.Time
}

// NewJobStore creates an empty in-memory job registry.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[uuid.UUID]*jobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob inserts a new job record.
func (s *JobStore) CreateJob(_ context.Context, job *pipeline.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.JobID()]; exists {
		return fmt.Errorf("job %s already exists", job.JobID())
	}
	s.jobs[job.JobID()] = &jobRecord{
		stage:            job.Stage(),
		status:           job.Status(),
		size:             job.Size(),
		createdAt:        job.CreatedAt(),
		updatedAt:        job.UpdatedAt(),
		recoveryAttempts: job.RecoveryAttempts(),
		failureReason:    job.FailureReason(),
	}
	return nil
}

func (s *JobStore) reconstruct(jobID uuid.UUID, rec *jobRecord) *pipeline.Job {
	return pipeline.ReconstructJob(
		jobID, rec.stage, rec.status, rec.size,
		rec.createdAt, rec.updatedAt, rec.recoveryAttempts, rec.failureReason,
	)
}

// GetJob returns the current job record, or ErrJobNotFound.
func (s *JobStore) GetJob(_ context.Context, jobID uuid.UUID) (*pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return s.reconstruct(jobID, rec), nil
}

// ListStale returns IN_PROGRESS jobs whose updated_at is at or before the
// cutoff, oldest first.
func (s *JobStore) ListStale(_ context.Context, cutoff time.Time) ([]*pipeline.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*pipeline.Job
	for jobID, rec := range s.jobs {
		if rec.status != pipeline.JobStatusInProgress {
			continue
		}
		if rec.updatedAt.After(cutoff) {
			continue
		}
		stale = append(stale, s.reconstruct(jobID, rec))
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt().Before(stale[j].UpdatedAt())
	})
	return stale, nil
}

// UpdateStatus transitions the job's status after validating the transition.
// A FAILED transition records the reason.
func (s *JobStore) UpdateStatus(_ context.Context, jobID uuid.UUID, status pipeline.JobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !rec.status.CanTransitionTo(status) {
		return fmt.Errorf("invalid job status transition %s -> %s (job_id: %s)", rec.status, status, jobID)
	}
	rec.status = status
	if status == pipeline.JobStatusFailed {
		rec.failureReason = reason
	}
	rec.updatedAt = s.now()
	return nil
}

// Touch bumps the job's updated_at to now.
func (s *JobStore) Touch(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	rec.updatedAt = s.now()
	return nil
}

// IncrementRecoveryAttempts adds one recovery attempt to the job and returns
// the new count.
func (s *JobStore) IncrementRecoveryAttempts(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	rec.recoveryAttempts++
	return rec.recoveryAttempts, nil
}

// SetUpdatedAt backdates a job's updated_at. Intended for tests.
func (s *JobStore) SetUpdatedAt(jobID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[jobID]; ok {
		rec.updatedAt = at
	}
}

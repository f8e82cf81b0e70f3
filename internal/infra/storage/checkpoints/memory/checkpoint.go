// Package memory provides an in-memory checkpoint store for tests and
// single-process runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/internal/infra/storage"
)

// DefaultCheckpointTTL matches the durable stores' retention window.
const DefaultCheckpointTTL = 36 * time.Hour

var _ pipeline.CheckpointStore = (*checkpointStore)(nil)

// checkpointStore keeps checkpoints in a map keyed by (job, stage). Expiry
// is evaluated lazily on Load against the store's clock.
type checkpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*pipeline.Checkpoint
	ttl         time.Duration
	metrics     storage.CheckpointMetrics

	// now is swappable so tests can control expiry.
	now func() time.Time
}

// NewCheckpointStore creates an empty in-memory checkpoint store. A
// non-positive ttl falls back to DefaultCheckpointTTL.
func NewCheckpointStore(ttl time.Duration, metrics storage.CheckpointMetrics) *checkpointStore {
	if ttl <= 0 {
		ttl = DefaultCheckpointTTL
	}
	return &checkpointStore{
		checkpoints: make(map[string]*pipeline.Checkpoint),
		ttl:         ttl,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func key(jobID uuid.UUID, stage pipeline.Stage) string {
	return fmt.Sprintf("%s:%s", jobID, stage)
}

// Save overwrites the stored checkpoint for the (job, stage) pair.
func (s *checkpointStore) Save(ctx context.Context, cp *pipeline.Checkpoint) error {
	s.metrics.IncCheckpointSave(ctx, cp.Stage().String())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key(cp.JobID(), cp.Stage())] = cp
	return nil
}

// Load returns the stored checkpoint, or nil when absent or expired.
func (s *checkpointStore) Load(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) (*pipeline.Checkpoint, error) {
	s.metrics.IncCheckpointLoad(ctx, stage.String())

	k := key(jobID, stage)
	s.mu.RLock()
	cp, ok := s.checkpoints[k]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if cp.ExpiredAt(s.now(), s.ttl) {
		// Only evict the exact snapshot judged expired. A save may have
		// replaced it between dropping the read lock and taking the write
		// lock, and the replacement must survive.
		s.mu.Lock()
		if cur, ok := s.checkpoints[k]; ok && cur == cp {
			delete(s.checkpoints, k)
		}
		s.mu.Unlock()
		return nil, nil
	}

	if err := cp.Validate(); err != nil {
		return nil, pipeline.NewCheckpointCorruptError(jobID, stage, err)
	}
	return cp, nil
}

// Remaining loads the checkpoint and filters the batch down to the items not
// yet completed, preserving input order.
func (s *checkpointStore) Remaining(
	ctx context.Context,
	jobID uuid.UUID,
	stage pipeline.Stage,
	items []pipeline.WorkItem,
) ([]pipeline.WorkItem, error) {
	cp, err := s.Load(ctx, jobID, stage)
	if err != nil {
		return nil, err
	}
	return pipeline.RemainingItems(cp, items), nil
}

// Clear removes the stored checkpoint. Clearing an absent entry is not an
// error.
func (s *checkpointStore) Clear(ctx context.Context, jobID uuid.UUID, stage pipeline.Stage) error {
	s.metrics.IncCheckpointClear(ctx, stage.String())
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, key(jobID, stage))
	return nil
}

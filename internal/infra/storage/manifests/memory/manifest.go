// Package memory provides an in-memory stage-manifest store for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

var _ pipeline.ManifestStore = (*ManifestStore)(nil)

// ManifestStore is an in-memory stage-manifest store.
type ManifestStore struct {
	mu        sync.RWMutex
	manifests map[string][]string
}

// NewManifestStore creates an empty in-memory manifest store.
func NewManifestStore() *ManifestStore {
	return &ManifestStore{manifests: make(map[string][]string)}
}

func key(jobID uuid.UUID, stage pipeline.Stage) string {
	return jobID.String() + ":" + stage.String()
}

// SaveItems records the item batch for the (job, stage) pair.
func (s *ManifestStore) SaveItems(_ context.Context, jobID uuid.UUID, stage pipeline.Stage, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[key(jobID, stage)] = append([]string(nil), itemIDs...)
	return nil
}

// Items returns the full batch for the stage, or ErrPrerequisiteMissing when
// no manifest was saved.
func (s *ManifestStore) Items(_ context.Context, jobID uuid.UUID, stage pipeline.Stage) ([]pipeline.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.manifests[key(jobID, stage)]
	if !ok {
		return nil, fmt.Errorf("manifest for job %s stage %s: %w", jobID, stage, pipeline.ErrPrerequisiteMissing)
	}
	return pipeline.ManifestItems(ids), nil
}

package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Checkpoint records how much of a stage's batch work is already done,
// enabling a crashed stage to resume from its last saved position instead
// of restarting from zero. A checkpoint is scoped to one (job, stage) pair
// and is overwritten, never appended, on each save.
type Checkpoint struct {
	jobID          uuid.UUID
	stage          Stage
	completedCount int
	totalCount     int
	completedIDs   []string
	metadata       map[string]string
	lastUpdated    time.Time
}

// NewCheckpoint creates a checkpoint for the given progress snapshot. It
// enforces the structural invariants: the completed count must equal the
// number of completed item IDs and may not exceed the total.
func NewCheckpoint(
	jobID uuid.UUID,
	stage Stage,
	totalCount int,
	completedIDs []string,
	metadata map[string]string,
) (*Checkpoint, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("invalid checkpoint stage: %q", stage)
	}
	if len(completedIDs) > totalCount {
		return nil, fmt.Errorf("checkpoint completed count %d exceeds total %d", len(completedIDs), totalCount)
	}

	ids := make([]string, len(completedIDs))
	copy(ids, completedIDs)

	return &Checkpoint{
		jobID:          jobID,
		stage:          stage,
		completedCount: len(ids),
		totalCount:     totalCount,
		completedIDs:   ids,
		metadata:       metadata,
		lastUpdated:    time.Now().UTC(),
	}, nil
}

// ReconstructCheckpoint creates a Checkpoint instance from persisted data.
// This should only be used by repositories when reconstructing from storage.
func ReconstructCheckpoint(
	jobID uuid.UUID,
	stage Stage,
	completedCount int,
	totalCount int,
	completedIDs []string,
	metadata map[string]string,
	lastUpdated time.Time,
) *Checkpoint {
	return &Checkpoint{
		jobID:          jobID,
		stage:          stage,
		completedCount: completedCount,
		totalCount:     totalCount,
		completedIDs:   completedIDs,
		metadata:       metadata,
		lastUpdated:    lastUpdated,
	}
}

// JobID returns the job this checkpoint belongs to.
func (c *Checkpoint) JobID() uuid.UUID { return c.jobID }

// Stage returns the stage this checkpoint belongs to.
func (c *Checkpoint) Stage() Stage { return c.stage }

// CompletedCount returns how many items of the batch are done.
func (c *Checkpoint) CompletedCount() int { return c.completedCount }

// TotalCount returns the batch size for the stage.
func (c *Checkpoint) TotalCount() int { return c.totalCount }

// CompletedIDs returns the ordered identifiers of completed items.
func (c *Checkpoint) CompletedIDs() []string {
	ids := make([]string, len(c.completedIDs))
	copy(ids, c.completedIDs)
	return ids
}

// CompletedIDSet returns the completed identifiers as a set.
func (c *Checkpoint) CompletedIDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.completedIDs))
	for _, id := range c.completedIDs {
		set[id] = struct{}{}
	}
	return set
}

// Metadata returns any additional metadata associated with this checkpoint.
func (c *Checkpoint) Metadata() map[string]string { return c.metadata }

// LastUpdated returns the time of the most recent save.
func (c *Checkpoint) LastUpdated() time.Time { return c.lastUpdated }

// ExpiredAt reports whether the checkpoint is past its TTL at the given
// instant. Expired checkpoints are treated as absent.
func (c *Checkpoint) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.lastUpdated) >= ttl
}

// Validate checks the structural invariants of a checkpoint loaded from
// storage. A violation means the record is corrupt and must be discarded.
func (c *Checkpoint) Validate() error {
	if !c.stage.Valid() {
		return fmt.Errorf("checkpoint references unknown stage %q", c.stage)
	}
	if c.completedCount != len(c.completedIDs) {
		return fmt.Errorf("checkpoint completed count %d does not match %d recorded IDs",
			c.completedCount, len(c.completedIDs))
	}
	if c.completedCount > c.totalCount {
		return fmt.Errorf("checkpoint completed count %d exceeds total %d", c.completedCount, c.totalCount)
	}
	return nil
}

// RemainingItems returns the subset of items whose IDs are not covered by
// the checkpoint, preserving the input order. A nil checkpoint leaves the
// input untouched: with no saved progress, everything remains.
func RemainingItems(c *Checkpoint, items []WorkItem) []WorkItem {
	if c == nil || len(c.completedIDs) == 0 {
		return items
	}

	done := c.CompletedIDSet()
	remaining := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if _, ok := done[item.ItemID()]; !ok {
			remaining = append(remaining, item)
		}
	}
	return remaining
}

// checkpointDTO mirrors Checkpoint for JSON serialization without exposing
// the entity's internals.
type checkpointDTO struct {
	JobID          string            `json:"job_id"`
	Stage          string            `json:"stage"`
	CompletedCount int               `json:"completed_count"`
	TotalCount     int               `json:"total_count"`
	CompletedIDs   []string          `json:"completed_ids"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	LastUpdated    time.Time         `json:"last_updated"`
}

// MarshalJSON serializes the Checkpoint object into a JSON byte array.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}

	dto := checkpointDTO{
		JobID:          c.jobID.String(),
		Stage:          c.stage.String(),
		CompletedCount: c.completedCount,
		TotalCount:     c.totalCount,
		CompletedIDs:   c.completedIDs,
		Metadata:       c.metadata,
		LastUpdated:    c.lastUpdated,
	}
	return json.Marshal(&dto)
}

// UnmarshalJSON deserializes JSON data into a Checkpoint object.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	if c == nil {
		return fmt.Errorf("cannot unmarshal JSON into nil Checkpoint")
	}

	var aux checkpointDTO
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	jobID, err := uuid.Parse(aux.JobID)
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	c.jobID = jobID
	c.stage = Stage(aux.Stage)
	c.completedCount = aux.CompletedCount
	c.totalCount = aux.TotalCount
	c.completedIDs = aux.CompletedIDs
	c.metadata = aux.Metadata
	c.lastUpdated = aux.LastUpdated

	return nil
}

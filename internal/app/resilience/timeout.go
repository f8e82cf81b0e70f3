package resilience

import (
	"time"

	"github.com/ahrav/clipforge/internal/domain/pipeline"
)

// TimeoutPolicy computes per-job stage time budgets from the job's size
// parameters. A fixed global timeout either aborts legitimate large jobs or
// lets tiny jobs hold a worker slot far longer than needed; this formula is
// deliberately simple so it can be explained when tuning incidents.
type TimeoutPolicy struct {
	// Base is the floor added to every job regardless of size.
	Base time.Duration
	// PerItem is added for every clip in the batch.
	PerItem time.Duration
	// PerMediaSecond is added for every second of narration audio.
	PerMediaSecond time.Duration
	// PortraitMultiplier scales the total for vertical output, which needs
	// extra crop passes.
	PortraitMultiplier float64

	// MinStage and MaxStage clamp each stage budget so degenerate jobs don't
	// get unusably small timeouts and pathological jobs can't hold a worker
	// indefinitely.
	MinStage time.Duration
	MaxStage time.Duration
}

// DefaultTimeoutPolicy returns the production defaults: 300s base, 10s per
// item, 2s per media second, 1.5x for portrait, stage budgets clamped to
// [30s, 30m].
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		Base:               300 * time.Second,
		PerItem:            10 * time.Second,
		PerMediaSecond:     2 * time.Second,
		PortraitMultiplier: 1.5,
		MinStage:           30 * time.Second,
		MaxStage:           30 * time.Minute,
	}
}

// Stage shares of the total budget. Download and build dominate; the
// remainder is split evenly across the four lighter stages.
const (
	downloadShare = 0.50
	buildShare    = 0.30
	otherShare    = (1.0 - downloadShare - buildShare) / 4
)

// TimeoutBudget is the computed set of time budgets for one job. It is
// derived, never stored, and consumed immediately by the stage executor
// wrapper.
type TimeoutBudget struct {
	Total    time.Duration
	Download time.Duration
	Build    time.Duration
	Other    time.Duration
}

// Compute derives the budget for a job of the given size.
func (p TimeoutPolicy) Compute(size pipeline.JobSize) TimeoutBudget {
	total := p.Base +
		time.Duration(size.ItemCount)*p.PerItem +
		time.Duration(size.MediaDurationSeconds*float64(p.PerMediaSecond))

	if size.Portrait {
		total = time.Duration(float64(total) * p.PortraitMultiplier)
	}

	return TimeoutBudget{
		Total:    total,
		Download: p.clamp(time.Duration(float64(total) * downloadShare)),
		Build:    p.clamp(time.Duration(float64(total) * buildShare)),
		Other:    p.clamp(time.Duration(float64(total) * otherShare)),
	}
}

// ForStage returns the budget for a specific stage. The switch is
// exhaustive over the closed stage set.
func (b TimeoutBudget) ForStage(stage pipeline.Stage) time.Duration {
	switch stage {
	case pipeline.StageDownloadItems:
		return b.Download
	case pipeline.StageBuildOutput:
		return b.Build
	case pipeline.StageInit, pipeline.StageAnalyzeInput, pipeline.StageFetchCandidates, pipeline.StageValidateItems:
		return b.Other
	case pipeline.StageDone:
		return 0
	default:
		return b.Other
	}
}

func (p TimeoutPolicy) clamp(d time.Duration) time.Duration {
	if p.MinStage > 0 && d < p.MinStage {
		return p.MinStage
	}
	if p.MaxStage > 0 && d > p.MaxStage {
		return p.MaxStage
	}
	return d
}

package pipeline

import "fmt"

// Stage identifies a phase of work within a job. The set of stages is closed
// and ordered; jobs move through them front to back.
type Stage string

const (
	// StageInit indicates a job has been accepted and is being prepared.
	StageInit Stage = "INIT"

	// StageAnalyzeInput indicates the spoken audio track is being analyzed.
	StageAnalyzeInput Stage = "ANALYZE_INPUT"

	// StageFetchCandidates indicates candidate clips are being searched.
	StageFetchCandidates Stage = "FETCH_CANDIDATES"

	// StageDownloadItems indicates candidate clips are being downloaded.
	StageDownloadItems Stage = "DOWNLOAD_ITEMS"

	// StageValidateItems indicates downloaded clips are being validated.
	StageValidateItems Stage = "VALIDATE_ITEMS"

	// StageBuildOutput indicates the final video is being assembled.
	StageBuildOutput Stage = "BUILD_OUTPUT"

	// StageDone indicates all stages finished successfully.
	StageDone Stage = "DONE"
)

// stageOrder is the canonical progression of stages. Any stage-dependent
// branching must be exhaustive over this list.
var stageOrder = []Stage{
	StageInit,
	StageAnalyzeInput,
	StageFetchCandidates,
	StageDownloadItems,
	StageValidateItems,
	StageBuildOutput,
	StageDone,
}

// Stages returns the ordered list of stages. The returned slice is a copy.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// String returns the string representation of the Stage.
func (s Stage) String() string { return string(s) }

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	for _, st := range stageOrder {
		if st == s {
			return true
		}
	}
	return false
}

// Index returns the position of s in the stage progression, or -1 when s is
// not a known stage.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage following s. The second return value is false when
// s is terminal or unknown.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx == len(stageOrder)-1 {
		return s, false
	}
	return stageOrder[idx+1], true
}

// Terminal reports whether s ends the stage progression.
func (s Stage) Terminal() bool { return s == StageDone }

// ParseStage converts a string to a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage: %q", s)
	}
	return stage, nil
}

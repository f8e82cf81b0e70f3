package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageOrdering(t *testing.T) {
	stages := Stages()
	require.Equal(t, []Stage{
		StageInit,
		StageAnalyzeInput,
		StageFetchCandidates,
		StageDownloadItems,
		StageValidateItems,
		StageBuildOutput,
		StageDone,
	}, stages)

	for i, s := range stages {
		assert.Equal(t, i, s.Index())
	}
}

func TestStageNext(t *testing.T) {
	tests := []struct {
		name    string
		stage   Stage
		want    Stage
		hasNext bool
	}{
		{name: "init_advances_to_analyze", stage: StageInit, want: StageAnalyzeInput, hasNext: true},
		{name: "validate_advances_to_build", stage: StageValidateItems, want: StageBuildOutput, hasNext: true},
		{name: "build_advances_to_done", stage: StageBuildOutput, want: StageDone, hasNext: true},
		{name: "done_is_terminal", stage: StageDone, want: StageDone, hasNext: false},
		{name: "unknown_has_no_next", stage: Stage("BOGUS"), want: Stage("BOGUS"), hasNext: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := tt.stage.Next()
			assert.Equal(t, tt.hasNext, ok)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestParseStage(t *testing.T) {
	stage, err := ParseStage("DOWNLOAD_ITEMS")
	require.NoError(t, err)
	assert.Equal(t, StageDownloadItems, stage)

	_, err = ParseStage("TRANSCODE")
	assert.Error(t, err)
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageDone.Terminal())
	for _, s := range Stages()[:len(Stages())-1] {
		assert.False(t, s.Terminal(), "stage %s should not be terminal", s)
	}
}

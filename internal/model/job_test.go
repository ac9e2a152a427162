package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageProgression(t *testing.T) {
	assert.Equal(t, StageEnrichment, StageSegmentation.Next())
	assert.Equal(t, StageFinancials, StageEnrichment.Next())
	assert.Equal(t, StageValidation, StageFinancials.Next())
	assert.Equal(t, StageMigration, StageValidation.Next())
	assert.Equal(t, Stage(""), StageMigration.Next())

	assert.True(t, StageSegmentation.CanAdvanceTo(StageEnrichment))
	assert.False(t, StageSegmentation.CanAdvanceTo(StageFinancials))
	assert.False(t, StageEnrichment.CanAdvanceTo(StageSegmentation))
}

func TestParseStage(t *testing.T) {
	st, err := ParseStage("stage2_enrichment")
	require.NoError(t, err)
	assert.Equal(t, StageEnrichment, st)

	_, err = ParseStage("stage4_profit")
	require.Error(t, err)
}

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusRunning, true},
		{JobStatusRunning, JobStatusPaused, true},
		{JobStatusRunning, JobStatusDone, true},
		{JobStatusPaused, JobStatusRunning, true},
		{JobStatusDone, JobStatusRunning, true},
		{JobStatusError, JobStatusRunning, true},
		{JobStatusPending, JobStatusDone, false},
		{JobStatusDone, JobStatusPaused, false},
		{JobStatusPaused, JobStatusDone, false},
		{JobStatusError, JobStatusDone, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusError.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusPaused.Terminal())
}

func TestSegmentFilterValidate(t *testing.T) {
	ok := SegmentFilter{RevenueFrom: 10, RevenueTo: 100, ProfitFrom: 1, ProfitTo: 50}
	require.NoError(t, ok.Validate())

	bad := SegmentFilter{RevenueFrom: 100, RevenueTo: 10}
	require.ErrorIs(t, bad.Validate(), ErrInvalidFilter)

	neg := SegmentFilter{RevenueFrom: -1}
	require.ErrorIs(t, neg.Validate(), ErrInvalidFilter)
}

func TestSegmentFilterHash(t *testing.T) {
	a := SegmentFilter{RevenueFrom: 10, RevenueTo: 100}
	b := SegmentFilter{RevenueFrom: 10, RevenueTo: 100}
	c := SegmentFilter{RevenueFrom: 20, RevenueTo: 100}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())

	// Normalize fills the default company type, so an explicit "AB"
	// hashes the same as the zero value.
	explicit := SegmentFilter{RevenueFrom: 10, RevenueTo: 100, CompanyType: "AB"}
	assert.Equal(t, a.Hash(), explicit.Hash())
}

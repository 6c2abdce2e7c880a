package memento

import (
	"testing"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestDecideBreakpointMustOnSummaryChanged(t *testing.T) {
	d := DecideBreakpoint("anything", nil, true, false)
	require.Equal(t, BreakpointMust, d)
}

func TestDecideBreakpointMustOnDecisionMade(t *testing.T) {
	d := DecideBreakpoint("hello", []string{"decision_made"}, false, false)
	require.Equal(t, BreakpointMust, d)
}

func TestDecideBreakpointSkipOnAckOnly(t *testing.T) {
	d := DecideBreakpoint("ok thanks", nil, false, false)
	require.Equal(t, BreakpointSkip, d)
}

func TestDecideBreakpointShouldOnOpenLoop(t *testing.T) {
	d := DecideBreakpoint("tell me more", []string{"open_loop_created"}, false, false)
	require.Equal(t, BreakpointShould, d)
}

func TestPeakFreezeHoldsAtPeakWithoutMust(t *testing.T) {
	require.True(t, PeakFreeze("peak", "low", BreakpointShould))
	require.False(t, PeakFreeze("peak", "low", BreakpointMust))
	require.False(t, PeakFreeze("settled", "low", BreakpointShould))
}

func TestMergeShapeInheritsDecisionsAndNext(t *testing.T) {
	previous := &models.MementoShape{Decisions: []string{"picked plan A"}, Next: []string{"follow up"}}
	modelShape := &models.MementoShape{Arc: "support"}
	merged := MergeShape(modelShape, previous, false, "hello", "")
	require.Equal(t, []string{"picked plan A"}, merged.Decisions)
	require.Equal(t, []string{"follow up"}, merged.Next)
}

func TestMergeShapeExtractsDecisionLockFallback(t *testing.T) {
	merged := MergeShape(&models.MementoShape{}, nil, false, "I should decide now", "Some text.\nRecommendation: go with plan B\n")
	require.Equal(t, []string{"go with plan B"}, merged.Decisions)
}

func TestMergeShapeUsesPreviousWhenFrozen(t *testing.T) {
	previous := &models.MementoShape{Arc: "crisis"}
	merged := MergeShape(&models.MementoShape{Arc: "support"}, previous, true, "hello", "")
	require.Equal(t, "crisis", merged.Arc)
}

func TestUpdateAffectSkipsNeutral(t *testing.T) {
	prev := models.Affect{}
	out := UpdateAffect(prev, &models.AffectSignal{Label: "neutral", Intensity: 0.9}, "m1", DefaultAffectRollup)
	require.Empty(t, out.Points)
}

func TestUpdateAffectClampsAndCaps(t *testing.T) {
	prev := models.Affect{}
	for i := 0; i < 7; i++ {
		prev = UpdateAffect(prev, &models.AffectSignal{Label: "anxious", Intensity: 1.5}, "m", DefaultAffectRollup)
	}
	require.Len(t, prev.Points, models.MementoListCap)
	for _, p := range prev.Points {
		require.LessOrEqual(t, p.Intensity, 1.0)
	}
}

func TestShouldPersistFirstTurn(t *testing.T) {
	require.True(t, ShouldPersist(nil, false, false))
}

func TestShouldPersistRequiresMeaningfulChange(t *testing.T) {
	prev := &models.ThreadMementoLatest{}
	require.False(t, ShouldPersist(prev, false, false))
	require.True(t, ShouldPersist(prev, true, false))
}

func TestNeedsCorrectionOnlyInAutoMode(t *testing.T) {
	q := Quality{ShapePresent: false}
	require.True(t, NeedsCorrection(q, "auto"))
	require.False(t, NeedsCorrection(q, "manual"))
}

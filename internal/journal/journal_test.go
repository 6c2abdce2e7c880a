package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyIneligibleWhenRiskNotLow(t *testing.T) {
	out := Classify(Input{MoodLabel: "sad", Risk: "high", Phase: "settled"})
	require.False(t, out.OfferEligible)
	require.Contains(t, out.ReasonCodes, "risk_not_low")
}

func TestClassifyIneligibleWhenMoodNeutral(t *testing.T) {
	out := Classify(Input{MoodLabel: "neutral", Risk: "low", Phase: "settled"})
	require.False(t, out.OfferEligible)
}

func TestClassifyOverwhelmVent(t *testing.T) {
	out := Classify(Input{MoodLabel: "sad", Risk: "low", Phase: "settled"})
	require.True(t, out.OfferEligible)
	require.Equal(t, "vent", out.Mode)
}

func TestClassifyOverwhelmSuppressedByAvoidPeak(t *testing.T) {
	out := Classify(Input{MoodLabel: "sad", Risk: "low", Phase: "settled", AvoidPeakOverwhelm: true})
	require.NotEqual(t, "vent", out.Mode)
}

func TestClassifyInsightOnHighIntensity(t *testing.T) {
	out := Classify(Input{MoodLabel: "excited", Risk: "low", Phase: "peak", Intensity: 0.8, AvoidPeakOverwhelm: true})
	require.True(t, out.OfferEligible)
	require.Equal(t, "insight", out.Mode)
}

func TestClassifyGratitudeOnDownshift(t *testing.T) {
	out := Classify(Input{MoodLabel: "relieved", Risk: "low", Phase: "downshift", Intensity: 0.3})
	require.True(t, out.OfferEligible)
	require.Equal(t, "gratitude", out.Mode)
}

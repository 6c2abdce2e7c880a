// Package journal implements the Journal Offer Classifier (C8): a
// deterministic rule table mapping affect phase/risk to an optional
// journaling prompt offer.
package journal

import "github.com/SolLabsHQ/solserver/pkg/models"

// Input bundles the classifier's inputs.
type Input struct {
	MoodLabel         string
	Risk              string // low | med | high
	Phase             string
	Intensity         float64
	Confidence        string
	AvoidPeakOverwhelm bool
}

// Classify runs the deterministic rule table from spec §4.8.
func Classify(in Input) models.JournalOfferRecord {
	if in.Risk != "low" {
		return models.JournalOfferRecord{OfferEligible: false, ReasonCodes: []string{"risk_not_low"}}
	}
	if in.MoodLabel == "" || in.MoodLabel == "neutral" {
		return models.JournalOfferRecord{OfferEligible: false, ReasonCodes: []string{"mood_neutral"}}
	}

	if in.Phase == "settled" && !in.AvoidPeakOverwhelm {
		return models.JournalOfferRecord{
			OfferEligible: true,
			Phase:         in.Phase,
			Risk:          in.Risk,
			Label:         in.MoodLabel,
			Mode:          "vent",
		}
	}

	if in.Intensity > 0.7 {
		return models.JournalOfferRecord{
			OfferEligible:   true,
			Phase:           in.Phase,
			Risk:            in.Risk,
			Label:           in.MoodLabel,
			IntensityBucket: "high",
			Mode:            "insight",
		}
	}

	if in.Phase == "downshift" || in.Phase == "settled" {
		return models.JournalOfferRecord{
			OfferEligible: true,
			Phase:         in.Phase,
			Risk:          in.Risk,
			Label:         in.MoodLabel,
			Mode:          "gratitude",
		}
	}

	if in.Phase == "settled" {
		return models.JournalOfferRecord{
			OfferEligible: true,
			Phase:         in.Phase,
			Risk:          in.Risk,
			Label:         in.MoodLabel,
			Mode:          "decision",
		}
	}

	return models.JournalOfferRecord{OfferEligible: false, Phase: in.Phase, Risk: in.Risk, ReasonCodes: []string{"no_rule_matched"}}
}

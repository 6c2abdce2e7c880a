// Package gates implements the Gate Chain (C3): input gates run in a fixed
// order, each producing a GateOutput; only the sentinel gate may escalate
// urgency.
package gates

import (
	"context"
	"regexp"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/rs/zerolog/log"
)

// ChainResult aggregates the fixed-order gate run.
type ChainResult struct {
	Outputs       []models.GateOutput
	SafetyIsUrgent bool
	Risk          string // low | med | high, taken from the sentinel gate's metadata
	Intent        string
}

// Chain runs the five input gates in spec order:
// normalize_modality -> url_extraction -> intent -> sentinel -> lattice.
// The lattice gate itself is run separately by the orchestrator (C4 has
// its own package); Chain only runs the first four and returns their
// four GateOutputs. It adds no entry for lattice; the orchestrator
// records the lattice result itself afterward.
type Chain struct {
	URLExtraction contracts.Gate
	Intent        contracts.Gate
	Sentinel      contracts.Gate
}

// NewDefaultChain builds a chain using the community default gates.
func NewDefaultChain() *Chain {
	return &Chain{
		URLExtraction: &URLExtractionGate{},
		Intent:        &IntentGate{},
		Sentinel:      &SentinelGate{},
	}
}

// Run executes normalize_modality, url_extraction, intent, sentinel in
// order and aggregates results. The caller is responsible for appending
// the lattice gate's output afterward.
func (c *Chain) Run(ctx context.Context, in *contracts.GateInput) (*ChainResult, error) {
	result := &ChainResult{}

	modalityOut := runNormalizeModality(in)
	result.Outputs = append(result.Outputs, *modalityOut)

	urlOut, err := c.URLExtraction.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	discardNonSentinelUrgency(urlOut)
	result.Outputs = append(result.Outputs, *urlOut)

	intentOut, err := c.Intent.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	discardNonSentinelUrgency(intentOut)
	result.Outputs = append(result.Outputs, *intentOut)
	if intentLabel, ok := intentOut.Metadata["intent"].(string); ok {
		result.Intent = intentLabel
	}

	sentinelOut, err := c.Sentinel.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	result.Outputs = append(result.Outputs, *sentinelOut)
	result.SafetyIsUrgent = sentinelOut.IsUrgent
	if risk, ok := sentinelOut.Metadata["risk"].(string); ok {
		result.Risk = risk
	} else {
		result.Risk = "low"
	}

	return result, nil
}

func discardNonSentinelUrgency(out *models.GateOutput) {
	if out.IsUrgent {
		log.Warn().Str("gate", out.GateName).Msg("non-sentinel gate flagged urgent; discarding (sentinel is the exclusive urgency source)")
		out.IsUrgent = false
	}
}

// ── normalize_modality ───────────────────────────────────────

func runNormalizeModality(in *contracts.GateInput) *models.GateOutput {
	modality := "text"
	if in.Message == "" {
		modality = "empty"
	}
	return &models.GateOutput{
		GateName: "normalize_modality",
		Status:   models.GatePass,
		Summary:  "normalized to " + modality,
		Metadata: map[string]interface{}{"modality": modality},
	}
}

// ── url_extraction gate ──────────────────────────────────────

var gateURLPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// URLExtractionGate flags whether the message contains URLs, for trace
// visibility; the actual capture/support normalization happens in C2.
type URLExtractionGate struct{}

func (g *URLExtractionGate) Name() string { return "url_extraction" }

func (g *URLExtractionGate) Run(_ context.Context, in *contracts.GateInput) (*models.GateOutput, error) {
	urls := gateURLPattern.FindAllString(in.Message, -1)
	status := models.GatePass
	summary := "no urls"
	if len(urls) > 0 {
		summary = "urls present"
	}
	return &models.GateOutput{
		GateName: "url_extraction",
		Status:   status,
		Summary:  summary,
		Metadata: map[string]interface{}{"count": len(urls)},
	}, nil
}

// ── intent gate ──────────────────────────────────────────────

var supportIntentPattern = regexp.MustCompile(`(?i)\b(should i|what should|help me decide|advice)\b`)

// IntentGate classifies a coarse intent label used by lattice's policy
// capsule gating and the journal offer classifier.
type IntentGate struct{}

func (g *IntentGate) Name() string { return "intent" }

func (g *IntentGate) Run(_ context.Context, in *contracts.GateInput) (*models.GateOutput, error) {
	intent := "chat"
	if supportIntentPattern.MatchString(in.Message) {
		intent = "support"
	}
	return &models.GateOutput{
		GateName: "intent",
		Status:   models.GatePass,
		Summary:  "intent=" + intent,
		Metadata: map[string]interface{}{"intent": intent},
	}, nil
}

// ── sentinel (safety) gate ───────────────────────────────────

// highRiskPatterns are crisis-tier terms; any match sets risk=high and
// is_urgent=true. This is the only gate in the chain permitted to
// escalate urgency (enforced by the orchestrator/Chain, not by this type).
var highRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsuicid(e|al)\b`),
	regexp.MustCompile(`(?i)\bself[\s-]?harm\b`),
	regexp.MustCompile(`(?i)\bkill (myself|him|her|them)\b`),
	regexp.MustCompile(`(?i)\bcrisis\b`),
	regexp.MustCompile(`(?i)\babuse\b`),
}

// medRiskPatterns elevate risk without forcing urgency.
var medRiskPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bviolence\b`),
	regexp.MustCompile(`(?i)\bhate\b`),
	regexp.MustCompile(`(?i)\bescalate\b`),
}

// SentinelGate is the exclusive source of urgency escalation.
type SentinelGate struct{}

func (g *SentinelGate) Name() string { return "sentinel" }

func (g *SentinelGate) Run(_ context.Context, in *contracts.GateInput) (*models.GateOutput, error) {
	risk := "low"
	urgent := false
	for _, p := range highRiskPatterns {
		if p.MatchString(in.Message) {
			risk = "high"
			urgent = true
			break
		}
	}
	if risk == "low" {
		for _, p := range medRiskPatterns {
			if p.MatchString(in.Message) {
				risk = "med"
				break
			}
		}
	}
	status := models.GatePass
	if urgent {
		status = models.GateWarn
	}
	return &models.GateOutput{
		GateName: "sentinel",
		Status:   status,
		Summary:  "risk=" + risk,
		IsUrgent: urgent,
		Metadata: map[string]interface{}{"risk": risk},
	}, nil
}

var _ contracts.Gate = (*URLExtractionGate)(nil)
var _ contracts.Gate = (*IntentGate)(nil)
var _ contracts.Gate = (*SentinelGate)(nil)

// Package envelope implements the Envelope Validator (C1): it parses a raw
// model output blob into a typed OutputEnvelope, or a typed parse failure.
package envelope

import (
	"encoding/json"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

// MaxBytes is the hard cap on raw model output; exceeding it is
// payload_too_large and is never retried.
const MaxBytes = 64 * 1024

var ghostKindAliases = map[string]string{
	"memory":  "memory_artifact",
	"journal": "journal_moment",
	"action":  "action_proposal",
}

// rawEnvelope mirrors the ingress shape permissively, before alias
// normalization and allowlist filtering.
type rawEnvelope struct {
	AssistantText string                 `json:"assistant_text"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

var allowedMetaKeys = map[string]bool{
	"meta_version":       true,
	"claims":             true,
	"used_evidence_ids":  true,
	"evidence_pack_id":   true,
	"capture_suggestion": true,
	"shape":              true,
	"affect_signal":      true,
	"librarian_gate":     true,
	"lattice":            true,
	"journalOffer":       true,
	"display_hint":       true,
	"ghost_kind":         true,
	"ghost_payload":      true,
}

// Validator is the default contracts.SchemaValidator implementation.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate implements contracts.SchemaValidator.
func (v *Validator) Validate(raw []byte, attempt int) (*models.OutputEnvelope, *contracts.ParseFailure) {
	if len(raw) > MaxBytes {
		return nil, &contracts.ParseFailure{Code: contracts.ParsePayloadTooLarge}
	}

	var re rawEnvelope
	if err := json.Unmarshal(raw, &re); err != nil {
		return nil, &contracts.ParseFailure{Code: contracts.ParseInvalidJSON, Issues: []contracts.ParseIssue{
			{Path: "$", Code: "invalid_json", Message: err.Error()},
		}}
	}

	normalizeAliases(re.Meta)

	issues := validateV0Minimum(re)
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err == nil {
		for key := range top {
			if key != "assistant_text" && key != "meta" {
				issues = append(issues, contracts.ParseIssue{Path: "$." + key, Code: "unknown_key", Message: "top-level key not allowed"})
			}
		}
	}
	if len(issues) > 0 {
		return nil, &contracts.ParseFailure{Code: contracts.ParseSchemaInvalid, Issues: limitIssues(issues, 3)}
	}

	env := buildEnvelope(re)

	// Full-schema failures (ghost-card shape, capture-suggestion field
	// combinations) are warnings, not blocks, per spec: collected onto the
	// envelope for the orchestrator to trace, never returned as a
	// ParseFailure.
	var warnings []contracts.ParseIssue
	if env.Meta != nil {
		warnings = append(warnings, validateGhostCard(env)...)
	}
	if env.Meta != nil && env.Meta.CaptureSuggestion != nil {
		warnings = append(warnings, validateCaptureSuggestion(env.Meta.CaptureSuggestion)...)
	}
	for _, w := range warnings {
		env.SchemaWarnings = append(env.SchemaWarnings, w.Path+": "+w.Message)
	}

	return env, nil
}

func normalizeAliases(meta map[string]interface{}) {
	if meta == nil {
		return
	}
	if v, ok := meta["ghost_type"]; ok {
		if s, ok := v.(string); ok {
			if mapped, found := ghostKindAliases[s]; found {
				meta["ghost_kind"] = mapped
			} else {
				meta["ghost_kind"] = s
			}
		}
		delete(meta, "ghost_type")
	}
	if v, ok := meta["metaVersion"]; ok {
		meta["meta_version"] = v
		delete(meta, "metaVersion")
	}
	if _, ok := meta["meta_version"]; !ok {
		meta["meta_version"] = "v1"
	}
}

func validateV0Minimum(re rawEnvelope) []contracts.ParseIssue {
	var issues []contracts.ParseIssue
	if re.AssistantText == "" {
		issues = append(issues, contracts.ParseIssue{Path: "$.assistant_text", Code: "required", Message: "assistant_text must be non-empty"})
	}
	for key := range re.Meta {
		if !allowedMetaKeys[key] {
			issues = append(issues, contracts.ParseIssue{Path: "$.meta." + key, Code: "unknown_key", Message: "meta key not in allowlist"})
		}
	}
	return issues
}

func validateGhostCard(env *models.OutputEnvelope) []contracts.ParseIssue {
	var issues []contracts.ParseIssue
	if env.Meta.DisplayHint == "ghost_card" && env.Meta.GhostKind == "" {
		issues = append(issues, contracts.ParseIssue{Path: "$.meta.ghost_kind", Code: "required_for_ghost_card", Message: "ghost_kind required when display_hint=ghost_card"})
	}
	return issues
}

// validateCaptureSuggestion implements spec testable property 6:
// calendar_event needs a suggested_start_at and no suggested_date;
// journal_entry and reminder must not carry suggested_start_at.
func validateCaptureSuggestion(cs *models.CaptureSuggestion) []contracts.ParseIssue {
	var issues []contracts.ParseIssue
	switch cs.Kind {
	case "calendar_event":
		if cs.SuggestedStartAt == "" {
			issues = append(issues, contracts.ParseIssue{
				Path: "$.meta.capture_suggestion.suggested_start_at", Code: "required_for_calendar_event",
				Message: "suggested_start_at required when kind=calendar_event",
			})
		}
		if cs.SuggestedDate != "" {
			issues = append(issues, contracts.ParseIssue{
				Path: "$.meta.capture_suggestion.suggested_date", Code: "forbidden_for_calendar_event",
				Message: "suggested_date must not be set when kind=calendar_event",
			})
		}
	case "journal_entry", "reminder":
		if cs.SuggestedStartAt != "" {
			issues = append(issues, contracts.ParseIssue{
				Path: "$.meta.capture_suggestion.suggested_start_at", Code: "forbidden_for_" + cs.Kind,
				Message: "suggested_start_at must not be set when kind=" + cs.Kind,
			})
		}
	}
	return issues
}

func limitIssues(issues []contracts.ParseIssue, max int) []contracts.ParseIssue {
	if len(issues) > max {
		return issues[:max]
	}
	return issues
}

func buildEnvelope(re rawEnvelope) *models.OutputEnvelope {
	env := &models.OutputEnvelope{AssistantText: re.AssistantText}
	if re.Meta == nil {
		return env
	}

	// Re-marshal the filtered, alias-normalized meta map into the typed
	// EnvelopeMeta shape via JSON round-trip — simplest way to keep the
	// allowlist and the struct tags as the single source of truth.
	filtered := make(map[string]interface{}, len(re.Meta))
	for k, v := range re.Meta {
		if allowedMetaKeys[k] {
			filtered[k] = v
		}
	}
	data, _ := json.Marshal(filtered)
	var meta models.EnvelopeMeta
	_ = json.Unmarshal(data, &meta)
	env.Meta = &meta
	return env
}

var _ contracts.SchemaValidator = (*Validator)(nil)

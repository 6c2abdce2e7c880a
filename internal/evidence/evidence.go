// Package evidence implements Evidence Intake (C2): it normalizes
// user-submitted captures/supports/claims, merges in auto-captured URLs,
// and fail-closed validates bounds and references.
package evidence

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/google/uuid"
)

// ValidationError is raised on any evidence shape violation; it is never
// retried and surfaces as HTTP 400 via the orchestrator.
type ValidationError struct {
	Code    string
	Message string
	Detail  map[string]interface{}
}

func (e *ValidationError) Error() string { return e.Message }

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// RegexURLExtractor is the community default contracts.URLExtractor.
type RegexURLExtractor struct{}

func (RegexURLExtractor) Extract(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Normalizer runs Evidence Intake.
type Normalizer struct {
	URLExtractor contracts.URLExtractor
}

func NewNormalizer(extractor contracts.URLExtractor) *Normalizer {
	if extractor == nil {
		extractor = RegexURLExtractor{}
	}
	return &Normalizer{URLExtractor: extractor}
}

// Normalize merges client-submitted evidence with auto-captured URLs and
// validates the result. Deterministic: iterating extracted URLs in the
// order they were found.
func (n *Normalizer) Normalize(_ context.Context, in *models.PacketInput) (*models.Evidence, error) {
	var clientCaptures []models.Capture
	var supports []models.Support
	var claims []models.EvidenceClaim

	if in.Evidence != nil {
		clientCaptures = append(clientCaptures, in.Evidence.Captures...)
		supports = append(supports, in.Evidence.Supports...)
		claims = append(claims, in.Evidence.Claims...)
	}

	existingURLs := make(map[string]bool, len(clientCaptures))
	for _, c := range clientCaptures {
		if c.URL != "" {
			existingURLs[c.URL] = true
		}
	}

	now := time.Now().UTC()
	captures := append([]models.Capture{}, clientCaptures...)
	for _, url := range n.URLExtractor.Extract(in.Message) {
		if existingURLs[url] {
			continue
		}
		existingURLs[url] = true
		captures = append(captures, models.Capture{
			ID:         uuid.NewString(),
			Kind:       "url",
			URL:        url,
			CapturedAt: now,
			Source:     "user_provided",
		})
	}

	if err := validateBounds(captures, supports, claims); err != nil {
		return nil, err
	}
	if err := validateReferences(captures, supports, claims); err != nil {
		return nil, err
	}
	if err := validateTimestamps(supports, claims); err != nil {
		return nil, err
	}

	return &models.Evidence{Captures: captures, Supports: supports, Claims: claims}, nil
}

func validateBounds(captures []models.Capture, supports []models.Support, claims []models.EvidenceClaim) error {
	if len(captures) > models.MaxCaptures {
		return &ValidationError{Code: "captures_exceeded", Message: fmt.Sprintf("captures exceed max of %d", models.MaxCaptures), Detail: map[string]interface{}{"count": len(captures), "max": models.MaxCaptures}}
	}
	if len(supports) > models.MaxSupports {
		return &ValidationError{Code: "supports_exceeded", Message: fmt.Sprintf("supports exceed max of %d", models.MaxSupports), Detail: map[string]interface{}{"count": len(supports), "max": models.MaxSupports}}
	}
	if len(claims) > models.MaxClaims {
		return &ValidationError{Code: "claims_exceeded", Message: fmt.Sprintf("claims exceed max of %d", models.MaxClaims), Detail: map[string]interface{}{"count": len(claims), "max": models.MaxClaims}}
	}
	return nil
}

func validateReferences(captures []models.Capture, supports []models.Support, claims []models.EvidenceClaim) error {
	captureIDs := make(map[string]bool, len(captures))
	for _, c := range captures {
		captureIDs[c.ID] = true
	}
	supportIDs := make(map[string]bool, len(supports))
	for _, s := range supports {
		switch s.Type {
		case "url_capture":
			if s.CaptureID == "" || !captureIDs[s.CaptureID] {
				return &ValidationError{Code: "support_capture_unresolved", Message: "url_capture support must reference an existing capture", Detail: map[string]interface{}{"support_id": s.ID}}
			}
		case "text_snippet":
			if s.Text == "" {
				return &ValidationError{Code: "support_text_empty", Message: "text_snippet support requires non-empty text", Detail: map[string]interface{}{"support_id": s.ID}}
			}
		default:
			return &ValidationError{Code: "support_type_invalid", Message: "unknown support type", Detail: map[string]interface{}{"support_id": s.ID, "type": s.Type}}
		}
		supportIDs[s.ID] = true
	}
	for _, c := range claims {
		for _, sid := range c.SupportIDs {
			if !supportIDs[sid] {
				return &ValidationError{Code: "claim_support_unresolved", Message: "claim references an unknown support", Detail: map[string]interface{}{"claim_id": c.ID, "support_id": sid}}
			}
		}
	}
	return nil
}

// validateTimestamps enforces that every support and claim carries a valid
// ISO-8601 timestamp. Go's json decoder already rejects malformed RFC3339
// values into time.Time at the transport boundary; this catches the
// zero-value case a caller can still construct programmatically (e.g. a
// field omitted entirely).
func validateTimestamps(supports []models.Support, claims []models.EvidenceClaim) error {
	for _, s := range supports {
		if s.CreatedAt.IsZero() {
			return &ValidationError{Code: "support_timestamp_invalid", Message: "support timestamp must be a valid ISO-8601 value", Detail: map[string]interface{}{"support_id": s.ID}}
		}
	}
	for _, c := range claims {
		if c.CreatedAt.IsZero() {
			return &ValidationError{Code: "claim_timestamp_invalid", Message: "claim timestamp must be a valid ISO-8601 value", Detail: map[string]interface{}{"claim_id": c.ID}}
		}
	}
	return nil
}

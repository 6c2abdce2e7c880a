// Package evidenceprovider implements the Evidence Provider & Output Gates
// (C5): the provider-decision predicate and the librarian, binding, and
// budget gates applied to a model's output envelope.
package evidenceprovider

import (
	"fmt"

	"github.com/SolLabsHQ/solserver/pkg/models"
)

// Decision is the outcome of the provider-decision predicate.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionSkip          Decision = "skip"
	DecisionForcedIgnored Decision = "forced_ignored_prod"
)

// DecideInput bundles the provider-decision predicate's inputs.
type DecideInput struct {
	ForceEvidence bool
	EnvForce      bool
	IsProduction  bool
	HasIntake     bool // intake produced any captures/supports/claims
}

// Decide runs the pure provider-decision predicate (spec §4.5).
func Decide(in DecideInput) Decision {
	forced := in.ForceEvidence || in.EnvForce
	allow := forced != in.IsProduction // XOR
	if allow {
		return DecisionAllow
	}
	if forced && in.IsProduction {
		return DecisionForcedIgnored
	}
	if in.HasIntake {
		return DecisionAllow
	}
	return DecisionSkip
}

// BindingError is raised when a claim references evidence the pack cannot
// resolve, or claims exist without any pack at all.
type BindingError struct {
	Code    string // invalid_binding | claims_without_evidence
	Message string
}

func (e *BindingError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// BudgetError is raised when the envelope's claims/meta exceed C5's budget.
type BudgetError struct {
	Code    string // max_claims | max_refs_per_claim | max_total_refs | max_meta_bytes | max_evidence_bytes
	Message string
}

func (e *BudgetError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

const (
	maxClaims        = 8
	maxRefsPerClaim  = 4
	maxTotalRefs     = 20
	maxMetaBytes     = 16 * 1024
	maxEvidenceBytes = 4 * 1024
)

// RunLibrarian applies the librarian gate: dedupe/prune claim refs and
// compute the librarian_gate verdict. Only meaningful when
// meta.display_hint == "ghost_card"; callers should check that first.
func RunLibrarian(meta *models.EnvelopeMeta, pack *models.EvidencePack) *models.LibrarianGateResult {
	if meta == nil || len(meta.Claims) == 0 {
		return &models.LibrarianGateResult{Version: "v0", Verdict: models.LibrarianPass}
	}

	knownEvidence := map[string]map[string]bool{} // evidenceID -> spanID set (nil pack means no known-id check)
	if pack != nil {
		for _, item := range pack.Items {
			spans := map[string]bool{}
			for _, sp := range item.Spans {
				spans[sp.SpanID] = true
			}
			knownEvidence[item.EvidenceID] = spans
		}
	}

	prunedRefs := 0
	unsupportedClaims := 0
	total := len(meta.Claims)
	reasonCodes := []string{}

	kept := make([]models.Claim, 0, len(meta.Claims))
	for _, claim := range meta.Claims {
		keptRefs := make([]models.EvidenceRef, 0, len(claim.EvidenceRefs))
		seen := map[string]bool{}
		for _, ref := range claim.EvidenceRefs {
			dedupeKey := ref.EvidenceID + "\x00" + ref.SpanID
			if seen[dedupeKey] {
				prunedRefs++
				continue
			}
			seen[dedupeKey] = true

			if ref.EvidenceID == "" {
				prunedRefs++
				continue
			}
			if pack != nil {
				spans, ok := knownEvidence[ref.EvidenceID]
				if !ok {
					prunedRefs++
					continue
				}
				if ref.SpanID != "" && !spans[ref.SpanID] {
					prunedRefs++
					continue
				}
			}
			keptRefs = append(keptRefs, ref)
		}

		if len(keptRefs) == 0 {
			unsupportedClaims++
			if len(reasonCodes) < 6 {
				reasonCodes = append(reasonCodes, "claim_unsupported:"+claim.ClaimID)
			}
			continue
		}
		claim.EvidenceRefs = keptRefs
		kept = append(kept, claim)
	}
	meta.Claims = kept

	supportScore := 1.0
	if total > 0 {
		supportScore = 1 - float64(unsupportedClaims)/float64(total)
	}

	verdict := models.LibrarianPass
	switch {
	case unsupportedClaims > 0:
		verdict = models.LibrarianFlag
	case prunedRefs > 0:
		verdict = models.LibrarianPrune
	}

	return &models.LibrarianGateResult{
		Version:           "v0",
		PrunedRefs:        prunedRefs,
		UnsupportedClaims: unsupportedClaims,
		SupportScore:      supportScore,
		Verdict:           verdict,
		ReasonCodes:       reasonCodes,
	}
}

// RunBinding checks that every claim's refs resolve in the pack.
func RunBinding(meta *models.EnvelopeMeta, pack *models.EvidencePack) *BindingError {
	if meta == nil || len(meta.Claims) == 0 {
		return nil
	}
	if pack == nil {
		return &BindingError{Code: "claims_without_evidence", Message: "claims present but no evidence pack resolved"}
	}

	known := map[string]bool{}
	for _, item := range pack.Items {
		known[item.EvidenceID] = true
	}

	for _, claim := range meta.Claims {
		for _, ref := range claim.EvidenceRefs {
			if !known[ref.EvidenceID] {
				return &BindingError{Code: "invalid_binding", Message: fmt.Sprintf("claim %s references unknown evidence %s", claim.ClaimID, ref.EvidenceID)}
			}
		}
	}
	return nil
}

// RunBudget enforces the byte and count limits from spec §4.5, all using
// true UTF-8 byte counts rather than rune or character counts.
func RunBudget(meta *models.EnvelopeMeta, pack *models.EvidencePack, rawMeta []byte) *BudgetError {
	if meta == nil {
		return nil
	}
	if len(meta.Claims) > maxClaims {
		return &BudgetError{Code: "max_claims", Message: fmt.Sprintf("claims=%d exceeds %d", len(meta.Claims), maxClaims)}
	}

	totalRefs := 0
	for _, claim := range meta.Claims {
		if len(claim.EvidenceRefs) > maxRefsPerClaim {
			return &BudgetError{Code: "max_refs_per_claim", Message: fmt.Sprintf("claim %s has %d refs", claim.ClaimID, len(claim.EvidenceRefs))}
		}
		totalRefs += len(claim.EvidenceRefs)
	}
	if totalRefs > maxTotalRefs {
		return &BudgetError{Code: "max_total_refs", Message: fmt.Sprintf("total refs=%d exceeds %d", totalRefs, maxTotalRefs)}
	}

	if len(rawMeta) > maxMetaBytes {
		return &BudgetError{Code: "max_meta_bytes", Message: fmt.Sprintf("meta=%d bytes exceeds %d", len(rawMeta), maxMetaBytes)}
	}

	if pack != nil {
		used := usedEvidenceIDs(meta)
		evidenceBytes := 0
		for _, item := range pack.Items {
			if !used[item.EvidenceID] {
				continue
			}
			evidenceBytes += len([]byte(item.ExcerptText))
			for _, sp := range item.Spans {
				evidenceBytes += len([]byte(sp.Text))
			}
		}
		if evidenceBytes > maxEvidenceBytes {
			return &BudgetError{Code: "max_evidence_bytes", Message: fmt.Sprintf("referenced evidence=%d bytes exceeds %d", evidenceBytes, maxEvidenceBytes)}
		}
	}

	return nil
}

// Finalize stamps the derived meta fields C5 owns once all gates pass:
// used_evidence_ids (insertion order, deduped), evidence_pack_id, meta_version,
// and capture_suggestion.suggestion_id.
func Finalize(meta *models.EnvelopeMeta, pack *models.EvidencePack, transmissionID string) {
	if meta == nil {
		return
	}
	idSet := usedEvidenceIDsOrdered(meta)
	meta.UsedEvidenceIDs = idSet
	if pack != nil {
		meta.EvidencePackID = pack.PackID
	}
	meta.MetaVersion = "v1"
	if meta.CaptureSuggestion != nil {
		meta.CaptureSuggestion.SuggestionID = "cap_" + transmissionID
	}
}

func usedEvidenceIDs(meta *models.EnvelopeMeta) map[string]bool {
	out := map[string]bool{}
	for _, claim := range meta.Claims {
		for _, ref := range claim.EvidenceRefs {
			out[ref.EvidenceID] = true
		}
	}
	return out
}

func usedEvidenceIDsOrdered(meta *models.EnvelopeMeta) []string {
	seen := map[string]bool{}
	var out []string
	for _, claim := range meta.Claims {
		for _, ref := range claim.EvidenceRefs {
			if seen[ref.EvidenceID] {
				continue
			}
			seen[ref.EvidenceID] = true
			out = append(out, ref.EvidenceID)
		}
	}
	return out
}

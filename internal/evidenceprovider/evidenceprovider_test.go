package evidenceprovider

import (
	"strings"
	"testing"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestDecideForcedIgnoredInProduction(t *testing.T) {
	d := Decide(DecideInput{ForceEvidence: true, IsProduction: true})
	require.Equal(t, DecisionForcedIgnored, d)
}

func TestDecideAllowsWhenForcedOutsideProduction(t *testing.T) {
	d := Decide(DecideInput{ForceEvidence: true, IsProduction: false})
	require.Equal(t, DecisionAllow, d)
}

func TestDecideAllowsWhenIntakePresent(t *testing.T) {
	d := Decide(DecideInput{HasIntake: true, IsProduction: true})
	require.Equal(t, DecisionAllow, d)
}

func TestDecideSkipsOtherwise(t *testing.T) {
	d := Decide(DecideInput{})
	require.Equal(t, DecisionSkip, d)
}

func TestRunLibrarianPrunesUnknownAndDuplicateRefs(t *testing.T) {
	pack := &models.EvidencePack{
		PackID: "pk1",
		Items: []models.EvidencePackItem{
			{EvidenceID: "ev-1"},
		},
	}
	meta := &models.EnvelopeMeta{
		Claims: []models.Claim{
			{ClaimID: "c1", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-1"}, {EvidenceID: "ev-1"}}},
			{ClaimID: "c2", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-999"}}},
		},
	}
	result := RunLibrarian(meta, pack)
	require.Equal(t, models.LibrarianFlag, result.Verdict)
	require.Equal(t, 1, result.UnsupportedClaims)
	require.GreaterOrEqual(t, result.PrunedRefs, 2)
	require.Len(t, meta.Claims, 1)
}

func TestRunLibrarianPassesWhenNothingPruned(t *testing.T) {
	pack := &models.EvidencePack{Items: []models.EvidencePackItem{{EvidenceID: "ev-1"}}}
	meta := &models.EnvelopeMeta{Claims: []models.Claim{
		{ClaimID: "c1", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-1"}}},
	}}
	result := RunLibrarian(meta, pack)
	require.Equal(t, models.LibrarianPass, result.Verdict)
}

func TestRunBindingFlagsUnresolvableRef(t *testing.T) {
	pack := &models.EvidencePack{Items: []models.EvidencePackItem{{EvidenceID: "ev-1"}}}
	meta := &models.EnvelopeMeta{Claims: []models.Claim{
		{ClaimID: "c1", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-999"}}},
	}}
	err := RunBinding(meta, pack)
	require.NotNil(t, err)
	require.Equal(t, "invalid_binding", err.Code)
}

func TestRunBindingFlagsClaimsWithoutEvidence(t *testing.T) {
	meta := &models.EnvelopeMeta{Claims: []models.Claim{{ClaimID: "c1", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-1"}}}}}
	err := RunBinding(meta, nil)
	require.NotNil(t, err)
	require.Equal(t, "claims_without_evidence", err.Code)
}

func TestRunBudgetRejectsTooManyClaims(t *testing.T) {
	meta := &models.EnvelopeMeta{}
	for i := 0; i < 9; i++ {
		meta.Claims = append(meta.Claims, models.Claim{ClaimID: "c"})
	}
	err := RunBudget(meta, nil, nil)
	require.NotNil(t, err)
	require.Equal(t, "max_claims", err.Code)
}

func TestRunBudgetCountsUTF8BytesNotRunes(t *testing.T) {
	pack := &models.EvidencePack{Items: []models.EvidencePackItem{
		{EvidenceID: "ev-1", ExcerptText: strings.Repeat("\U0001F600", 2000)},
	}}
	meta := &models.EnvelopeMeta{Claims: []models.Claim{
		{ClaimID: "c1", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-1"}}},
	}}
	err := RunBudget(meta, pack, nil)
	require.NotNil(t, err)
	require.Equal(t, "max_evidence_bytes", err.Code)
}

func TestFinalizeStampsMetaFields(t *testing.T) {
	pack := &models.EvidencePack{PackID: "pk1"}
	meta := &models.EnvelopeMeta{
		Claims: []models.Claim{
			{ClaimID: "c1", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-1"}}},
			{ClaimID: "c2", EvidenceRefs: []models.EvidenceRef{{EvidenceID: "ev-1"}, {EvidenceID: "ev-2"}}},
		},
		CaptureSuggestion: &models.CaptureSuggestion{Kind: "reminder"},
	}
	Finalize(meta, pack, "tx-123")
	require.Equal(t, "v1", meta.MetaVersion)
	require.Equal(t, "pk1", meta.EvidencePackID)
	require.Equal(t, []string{"ev-1", "ev-2"}, meta.UsedEvidenceIDs)
	require.Equal(t, "cap_tx-123", meta.CaptureSuggestion.SuggestionID)
}

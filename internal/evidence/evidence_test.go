package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAutoCapturesNewURLs(t *testing.T) {
	n := NewNormalizer(nil)
	ev, err := n.Normalize(context.Background(), &models.PacketInput{
		Message: "check https://example.com/a for details",
	})
	require.NoError(t, err)
	require.Len(t, ev.Captures, 1)
	require.Equal(t, "https://example.com/a", ev.Captures[0].URL)
	require.Equal(t, "user_provided", ev.Captures[0].Source)
}

func TestNormalizeSkipsURLsAlreadyClientCaptured(t *testing.T) {
	n := NewNormalizer(nil)
	ev, err := n.Normalize(context.Background(), &models.PacketInput{
		Message: "see https://example.com/a",
		Evidence: &models.EvidenceInput{
			Captures: []models.Capture{{ID: "cap-1", Kind: "url", URL: "https://example.com/a"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, ev.Captures, 1)
	require.Equal(t, "cap-1", ev.Captures[0].ID)
}

func TestNormalizeRejectsCaptureOverflow(t *testing.T) {
	n := NewNormalizer(nil)
	var captures []models.Capture
	for i := 0; i < models.MaxCaptures+1; i++ {
		captures = append(captures, models.Capture{ID: "c" + string(rune('a'+i%26))})
	}
	_, err := n.Normalize(context.Background(), &models.PacketInput{
		Evidence: &models.EvidenceInput{Captures: captures},
	})
	require.Error(t, err)
}

func TestNormalizeRejectsUnresolvedSupportCapture(t *testing.T) {
	n := NewNormalizer(nil)
	_, err := n.Normalize(context.Background(), &models.PacketInput{
		Evidence: &models.EvidenceInput{
			Supports: []models.Support{{ID: "s1", Type: "url_capture", CaptureID: "missing"}},
		},
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "support_capture_unresolved", verr.Code)
}

func TestNormalizeRejectsUnresolvedClaimSupport(t *testing.T) {
	n := NewNormalizer(nil)
	_, err := n.Normalize(context.Background(), &models.PacketInput{
		Evidence: &models.EvidenceInput{
			Claims: []models.EvidenceClaim{{ID: "cl1", Text: "x", SupportIDs: []string{"missing"}, CreatedAt: time.Now()}},
		},
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "claim_support_unresolved", verr.Code)
}

func TestNormalizeAcceptsValidChain(t *testing.T) {
	n := NewNormalizer(nil)
	now := time.Now()
	ev, err := n.Normalize(context.Background(), &models.PacketInput{
		Evidence: &models.EvidenceInput{
			Captures: []models.Capture{{ID: "cap-1", Kind: "url", URL: "https://x.com"}},
			Supports: []models.Support{{ID: "sup-1", Type: "url_capture", CaptureID: "cap-1", CreatedAt: now}},
			Claims:   []models.EvidenceClaim{{ID: "cl-1", Text: "x happened", SupportIDs: []string{"sup-1"}, CreatedAt: now}},
		},
	})
	require.NoError(t, err)
	require.Len(t, ev.Claims, 1)
}

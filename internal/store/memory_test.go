package store

import (
	"context"
	"testing"
	"time"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreTransmissionLifecycle(t *testing.T) {
	s := NewMemoryStore("", 0)
	defer s.Close()
	ctx := context.Background()

	tr := &models.Transmission{ID: "tx-1", ThreadID: "thread-1", Status: models.TransmissionCreated, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateTransmission(ctx, tr))

	got, err := s.GetTransmission(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, models.TransmissionCreated, got.Status)

	require.NoError(t, s.UpdateTransmissionStatus(ctx, "tx-1", models.TransmissionCompleted, 200, false, "", ""))
	got, err = s.GetTransmission(ctx, "tx-1")
	require.NoError(t, err)
	require.Equal(t, models.TransmissionCompleted, got.Status)

	_, err = s.GetTransmission(ctx, "missing")
	require.Error(t, err)
	var nf *ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestMemoryStoreTraceEventsOrdering(t *testing.T) {
	s := NewMemoryStore("", 0)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendTraceEvent(ctx, &models.TraceEvent{
			TransmissionID: "tx-1",
			Phase:          "evidence_intake",
			Status:         "completed",
		}))
	}
	events, err := s.GetTraceEvents(ctx, "tx-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestMemoryStoreMementoRoundTrip(t *testing.T) {
	s := NewMemoryStore("", 0)
	defer s.Close()
	ctx := context.Background()

	m := &models.ThreadMementoLatest{ThreadID: "thread-1", Arc: "support"}
	require.NoError(t, s.UpsertThreadMementoLatest(ctx, m))

	got, err := s.GetThreadMementoLatest(ctx, "thread-1")
	require.NoError(t, err)
	require.Equal(t, "support", got.Arc)

	_, err = s.GetThreadMementoLatest(ctx, "thread-2")
	require.Error(t, err)
}

func TestMemoryStoreLexicalSearchScopesToPinned(t *testing.T) {
	s := NewMemoryStore("", 0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.UpsertMemoryArtifact(ctx, &models.MemoryArtifact{ID: "a1", UserID: "u1", Text: "journal about consent policy", Lifecycle: "pinned"}))
	require.NoError(t, s.UpsertMemoryArtifact(ctx, &models.MemoryArtifact{ID: "a2", UserID: "u1", Text: "journal about consent policy", Lifecycle: "archived"}))

	hits, err := s.SearchMemoryArtifactsLexical(ctx, "u1", []string{"consent"}, 6)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "a1", hits[0].ID)
}

func TestTopologyGuardIsIdempotent(t *testing.T) {
	s := NewMemoryStore("", 0)
	defer s.Close()
	ctx := context.Background()

	first, err := s.EnsureTopologyKeyPrimary(ctx, "primary", "/data/data.json")
	require.NoError(t, err)
	second, err := s.EnsureTopologyKeyPrimary(ctx, "primary", "/data/data.json")
	require.NoError(t, err)
	require.Equal(t, first.TopologyKey, second.TopologyKey)
}

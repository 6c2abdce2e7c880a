package lattice

import (
	"context"
	"testing"

	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeMemStore struct {
	hits []models.MemoryArtifact
}

func (f *fakeMemStore) SearchLexical(_ context.Context, _ string, _ []string, limit int) ([]models.MemoryArtifact, error) {
	if limit > 0 && len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func TestRetrieveMissWhenDisabled(t *testing.T) {
	r := NewRetriever(config.LatticeConfig{Enabled: false}, &fakeMemStore{}, nil, nil)
	res := r.Retrieve(context.Background(), Request{UserID: "u1", Message: "hello there friend"})
	require.Equal(t, "miss", res.Meta.Status)
}

func TestRetrieveMissWhenNoUserID(t *testing.T) {
	r := NewRetriever(config.LatticeConfig{Enabled: true}, &fakeMemStore{}, nil, nil)
	res := r.Retrieve(context.Background(), Request{Message: "hello there friend"})
	require.Equal(t, "miss", res.Meta.Status)
}

func TestRetrieveHitFromLexicalSearch(t *testing.T) {
	store := &fakeMemStore{hits: []models.MemoryArtifact{{ID: "a1", Text: "notes about the project roadmap"}}}
	r := NewRetriever(config.LatticeConfig{Enabled: true}, store, nil, nil)
	res := r.Retrieve(context.Background(), Request{UserID: "u1", Message: "what is the project roadmap"})
	require.Equal(t, "hit", res.Meta.Status)
	require.Len(t, res.Items, 1)
	require.Equal(t, "memory", res.Items[0].Kind)
}

func TestQueryTermsDedupAndCap(t *testing.T) {
	terms := queryTerms("the the the cat cat sat on a mat mat near hat bat rat pat vat wat xat")
	require.LessOrEqual(t, len(terms), maxQueryTerms)
	seen := map[string]bool{}
	for _, t2 := range terms {
		require.False(t, seen[t2])
		seen[t2] = true
	}
}

func TestAssembleWithByteCapStopsAtBoundary(t *testing.T) {
	items := []models.LatticeItem{
		{ID: "1", Summary: string(make([]byte, 5000))},
		{ID: "2", Summary: string(make([]byte, 5000))},
	}
	out, total, capped := assembleWithByteCap(items, byteCap)
	require.True(t, capped)
	require.Len(t, out, 1)
	require.LessOrEqual(t, total, byteCap)
}

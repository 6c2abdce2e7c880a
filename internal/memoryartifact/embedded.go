// Package memoryartifact provides VectorStoreDriver implementations for
// lattice retrieval's optional vector search path: an in-process
// brute-force driver and an optional pgvector-backed driver.
package memoryartifact

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

type scoredArtifact struct {
	a     models.MemoryArtifact
	score float64
}

// EmbeddedStore is a brute-force, in-process VectorStoreDriver. Suitable
// for single-process deployments and tests.
type EmbeddedStore struct {
	mu   sync.RWMutex
	docs map[string][]models.MemoryArtifact // keyed by userID
}

func NewEmbeddedStore() *EmbeddedStore {
	return &EmbeddedStore{docs: make(map[string][]models.MemoryArtifact)}
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

func (s *EmbeddedStore) Upsert(_ context.Context, userID string, artifacts []models.MemoryArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[userID] = append(s.docs[userID], artifacts...)
	return nil
}

func (s *EmbeddedStore) Search(_ context.Context, userID string, queryVec []float32, limit int, maxDistance float64) ([]models.MemoryArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []scoredArtifact
	for _, a := range s.docs[userID] {
		if len(a.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(queryVec, a.Embedding)
		if maxDistance > 0 && (1-sim) > maxDistance {
			continue
		}
		hits = append(hits, scoredArtifact{a: a, score: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.MemoryArtifact, len(hits))
	for i, h := range hits {
		out[i] = h.a
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ contracts.VectorStoreDriver = (*EmbeddedStore)(nil)
var _ contracts.VectorStoreDriver = (*PgvectorStore)(nil)

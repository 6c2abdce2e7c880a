package memoryartifact

import (
	"context"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/SolLabsHQ/solserver/pkg/models"
)

// lexicalStore is the minimal store.Store surface this package needs,
// avoiding an import of internal/store (which would cycle back here once
// the store gains artifact-aware helpers).
type lexicalStore interface {
	SearchMemoryArtifactsLexical(ctx context.Context, userID string, terms []string, limit int) ([]models.MemoryArtifact, error)
}

// StoreBackedLexical adapts the persistence store's lexical search method
// to contracts.MemoryArtifactStore, the shape lattice retrieval expects.
type StoreBackedLexical struct {
	Store lexicalStore
}

func NewStoreBackedLexical(s lexicalStore) *StoreBackedLexical {
	return &StoreBackedLexical{Store: s}
}

func (l *StoreBackedLexical) SearchLexical(ctx context.Context, userID string, terms []string, limit int) ([]models.MemoryArtifact, error) {
	return l.Store.SearchMemoryArtifactsLexical(ctx, userID, terms, limit)
}

var _ contracts.MemoryArtifactStore = (*StoreBackedLexical)(nil)

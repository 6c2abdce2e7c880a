// Package embedding provides deterministic embedding drivers for lattice
// retrieval's optional vector search path.
package embedding

import (
	"context"
	"crypto/sha256"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
)

const dimensions = 32

// DeterministicDriver hashes the input text into a fixed-size float vector.
// It has no external dependency and no learned semantics — it exists so
// the vector search code path is exercisable without a real embeddings
// provider, matching spec §4.4's "compute a deterministic embedding of the
// message" requirement literally.
type DeterministicDriver struct{}

func (DeterministicDriver) Kind() string { return "deterministic" }

func (DeterministicDriver) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dimensions)
	for i := 0; i < dimensions; i++ {
		vec[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return vec, nil
}

var _ contracts.EmbeddingDriver = DeterministicDriver{}

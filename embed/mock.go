package embed

import (
	"context"
	"hash/fnv"
	"math/rand/v2"

	"github.com/hubenschmidt/go-visearch/vector"
)

// MockEmbedder derives a deterministic unit vector from the image bytes.
// Identical images map to identical vectors.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) Embed(ctx context.Context, image []byte) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := fnv.New64a()
	h.Write(image)
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	v := make([]float64, e.dimension)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return vector.Normalize(v), nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

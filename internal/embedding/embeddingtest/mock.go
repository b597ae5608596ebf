// Package embeddingtest provides test doubles for the embedding package.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/engramd/engramd/internal/embedding"
)

// DefaultDimensions matches small sentence-transformer models.
const DefaultDimensions = 384

// MockEmbedder is a deterministic test embedder. By default it hashes the
// input text into a unit vector, so identical texts are identical vectors and
// different texts are (almost certainly) dissimilar. Set EmbedFunc to control
// vectors or inject errors.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Dims      int

	mu         sync.Mutex
	EmbedCalls int
}

// New creates a MockEmbedder with DefaultDimensions.
func New() *MockEmbedder {
	return &MockEmbedder{Dims: DefaultDimensions}
}

// Compile-time interface check.
var _ embedding.Embedder = (*MockEmbedder)(nil)

// Embed delegates to EmbedFunc if set, otherwise returns a hash-derived
// deterministic unit vector.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.EmbedCalls++
	m.mu.Unlock()

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return HashVector(text, m.Dimensions()), nil
}

// Dimensions returns the configured vector size.
func (m *MockEmbedder) Dimensions() int {
	if m.Dims <= 0 {
		return DefaultDimensions
	}
	return m.Dims
}

// Calls returns the number of Embed calls made.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EmbedCalls
}

// HashVector generates a deterministic unit vector from text using an
// FNV-seeded linear congruential generator.
func HashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed)) / float32(math.MaxInt64)
		vec[i] = v
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Package embedding defines the text-to-vector embedder contract used by the
// memory engine for similarity search.
package embedding

import (
	"context"
	"errors"
)

// Embedder converts text to fixed-dimension vector embeddings.
// Implementations must be deterministic for a fixed model id: the same text
// embeds to the same vector. Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Sentinel errors for embedding operations.
var (
	// ErrEmptyText indicates an empty string was passed to Embed.
	ErrEmptyText = errors.New("embedding: empty text")

	// ErrDimensionMismatch indicates a vector with an unexpected dimension.
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
)

package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/engramd/engramd/internal/embedding"
)

// Embedder calls the OpenAI Embeddings API using the parent provider's
// credentials and HTTP client.
type Embedder struct {
	provider *Provider
}

// Embed returns the embedding vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embedding.ErrEmptyText
	}

	p := e.provider
	req := embeddingRequest{
		Model: p.config.EmbeddingModel,
		Input: []string{text},
	}

	body, statusCode, err := p.doPost(ctx, "/embeddings", req)
	if err != nil {
		return nil, err
	}
	if httpErr := mapHTTPError(statusCode, body); httpErr != nil {
		return nil, httpErr
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openai: unmarshal embedding response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: embedding response contains no data")
	}

	vec := resp.Data[0].Embedding
	if want := e.Dimensions(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%w: got %d, want %d",
			embedding.ErrDimensionMismatch, len(vec), want)
	}

	return vec, nil
}

// Dimensions returns the configured embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.provider.config.EmbeddingDimensions
}

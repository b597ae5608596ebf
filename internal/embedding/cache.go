package embedding

import (
	"context"
	"log/slog"

	"github.com/dgraph-io/ristretto"
)

// cacheCostPerFloat is the accounting cost of one vector element (float32).
const cacheCostPerFloat = 4

// CachedEmbedder wraps an Embedder with an in-process ristretto cache keyed
// by the exact input text. Retrieval embeds the same query strings repeatedly
// (every message on the chat hot path), so a hit avoids a provider round trip.
//
// Embedders are deterministic for a fixed model id, which makes text a safe
// cache key. Failures are never cached.
type CachedEmbedder struct {
	inner  Embedder
	cache  *ristretto.Cache
	logger *slog.Logger
}

// NewCachedEmbedder wraps inner with a cache bounded to roughly maxBytes of
// vector data. A nil logger discards log output.
func NewCachedEmbedder(inner Embedder, maxBytes int64, logger *slog.Logger) (*CachedEmbedder, error) {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		// Recommended ratio: 10x the expected max item count.
		NumCounters: maxBytes / cacheCostPerFloat / 100,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}, nil
}

// Compile-time interface check.
var _ Embedder = (*CachedEmbedder)(nil)

// Embed returns the cached vector for text, or delegates to the inner
// embedder and caches the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, vec, int64(len(vec)*cacheCostPerFloat))
	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases cache resources.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}

// discardHandler is a slog.Handler that drops all records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

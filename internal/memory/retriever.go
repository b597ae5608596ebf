package memory

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/engramd/engramd/internal/embedding"
)

// Retrieval defaults.
const (
	DefaultRetrievalLimit         = 10
	DefaultRetrievalMinImportance = 0.3
)

// RetrieveOptions tunes a retrieval call. Zero values fall back to defaults.
type RetrieveOptions struct {
	Limit         int
	MinImportance float64
}

func (o *RetrieveOptions) defaults() {
	if o.Limit <= 0 {
		o.Limit = DefaultRetrievalLimit
	}
	if o.MinImportance <= 0 {
		o.MinImportance = DefaultRetrievalMinImportance
	}
}

// ScoredMemory is a retrieved record with its similarity to the query and
// the relevance score used for ranking.
type ScoredMemory struct {
	Record

	// Similarity is the cosine similarity between query and record embeddings.
	Similarity float64 `json:"similarity"`

	// Relevance is similarity × importance. The multiplicative score
	// suppresses textually-close-but-unimportant matches and
	// important-but-irrelevant matches alike.
	Relevance float64 `json:"relevance"`
}

// RetrievalResult holds ranked memories. Degraded is set when the query
// embedding failed: retrieval sits on the response-generation hot path and
// must return empty rather than raise.
type RetrievalResult struct {
	Memories []ScoredMemory `json:"memories"`
	Found    int            `json:"found"`
	Degraded bool           `json:"degraded,omitempty"`
}

// SimilarityHit is a candidate record with its cosine similarity to the
// query, before importance weighting.
type SimilarityHit struct {
	Record
	Similarity float64
}

// VectorSearcher is an optional Store capability. Stores backed by a vector
// index implement it to serve similarity candidates directly; the retriever
// falls back to brute-force scoring otherwise. Implementations must return
// every embedded record at or above minImportance with its exact cosine
// similarity, so ranking stays identical across store backends.
type VectorSearcher interface {
	SimilarByVector(ctx context.Context, owner string, vec []float32, minImportance float64) ([]SimilarityHit, error)
}

// Retriever ranks stored memories against a query by similarity × importance.
type Retriever struct {
	store    Store
	embedder embedding.Embedder
	logger   *slog.Logger
	metrics  *Metrics
}

// NewRetriever creates a retriever. A nil logger discards log output.
func NewRetriever(store Store, embedder embedding.Embedder, logger *slog.Logger, metrics *Metrics) *Retriever {
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	return &Retriever{store: store, embedder: embedder, logger: logger, metrics: metrics}
}

// Retrieve embeds the query, scores the user's memories, and returns the
// top results by relevance. Returned memories get their access count bumped
// and last_accessed stamped; those updates are best-effort.
func (r *Retriever) Retrieve(ctx context.Context, owner, query string, opts RetrieveOptions) (RetrievalResult, error) {
	opts.defaults()

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		// Hot path: degrade to an empty result instead of failing the chat.
		r.logger.Warn("query embedding failed, returning empty retrieval",
			"owner", owner,
			"error", err,
		)
		r.metrics.retrievalDegraded()
		return RetrievalResult{Degraded: true}, nil
	}

	hits, err := r.candidates(ctx, owner, queryVec, opts.MinImportance)
	if err != nil {
		return RetrievalResult{}, err
	}

	scored := make([]ScoredMemory, 0, len(hits))
	for i := range hits {
		scored = append(scored, ScoredMemory{
			Record:     hits[i].Record,
			Similarity: hits[i].Similarity,
			Relevance:  hits[i].Similarity * hits[i].Importance,
		})
	}

	slices.SortFunc(scored, func(a, b ScoredMemory) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		}
		// Deterministic order for equal scores.
		return strings.Compare(a.ID, b.ID)
	})

	found := len(scored)
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	now := time.Now().UTC()
	for i := range scored {
		if err := r.store.Touch(ctx, owner, scored[i].ID); err != nil {
			r.logger.Debug("access count update failed", "id", scored[i].ID, "error", err)
			continue
		}
		scored[i].AccessCount++
		scored[i].LastAccessed = &now
	}

	r.metrics.retrieval(len(scored))

	return RetrievalResult{Memories: scored, Found: found}, nil
}

// candidates collects embedded records with their query similarity, using
// the store's vector index when it has one.
func (r *Retriever) candidates(ctx context.Context, owner string, queryVec []float32, minImportance float64) ([]SimilarityHit, error) {
	if vs, ok := r.store.(VectorSearcher); ok {
		return vs.SimilarByVector(ctx, owner, queryVec, minImportance)
	}

	records, err := r.store.ListByOwner(ctx, owner, Filter{
		MinImportance:    minImportance,
		RequireEmbedding: true,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SimilarityHit, 0, len(records))
	for i := range records {
		hits = append(hits, SimilarityHit{
			Record:     records[i],
			Similarity: Cosine(queryVec, records[i].Embedding),
		})
	}
	return hits, nil
}

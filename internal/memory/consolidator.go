package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/engramd/engramd/internal/embedding"
	"github.com/engramd/engramd/internal/provider"
)

const (
	consolidateTemperature = 0.2
	consolidateMaxTokens   = 512
)

const consolidationSystemPrompt = `You merge near-duplicate memory statements about a user into a single statement.
Combine all distinct information from the inputs into one concise, non-redundant statement.
Do not invent information that is not present in the inputs.
Respond with the merged statement only, no preamble and no quotes.`

// MergeResult describes one cluster merge performed by the consolidator.
type MergeResult struct {
	ConsolidatedID string   `json:"consolidated_id"`
	OriginalIDs    []string `json:"original_ids"`
	Content        string   `json:"content"`
}

// Consolidator clusters near-duplicate same-type memories and merges each
// cluster into one representative record. It is a batch operation meant for
// the maintenance path, not the request path.
type Consolidator struct {
	store    Store
	provider provider.Provider
	embedder embedding.Embedder
	logger   *slog.Logger
	metrics  *Metrics
}

// NewConsolidator creates a consolidator. A nil logger discards log output.
func NewConsolidator(store Store, p provider.Provider, embedder embedding.Embedder, logger *slog.Logger, metrics *Metrics) *Consolidator {
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	return &Consolidator{store: store, provider: p, embedder: embedder, logger: logger, metrics: metrics}
}

// Consolidate merges near-duplicate memories for one user. When typeFilter
// is non-empty only that type is processed. Cluster failures are isolated:
// one failed merge does not abort the pass.
//
// The create-merged-then-delete-originals sequence is not transactional.
// An interruption can leave duplicates behind; a subsequent pass picks
// them up again.
func (c *Consolidator) Consolidate(ctx context.Context, owner string, typeFilter Type) ([]MergeResult, error) {
	types := Types()
	if typeFilter != "" {
		if !typeFilter.Valid() {
			return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, typeFilter)
		}
		types = []Type{typeFilter}
	}

	var results []MergeResult
	for _, t := range types {
		records, err := c.store.ListByOwner(ctx, owner, Filter{Type: t})
		if err != nil {
			return results, err
		}
		if len(records) < 2 {
			continue
		}

		for _, cluster := range clusterBySimilarity(records, ConsolidationSimilarityThreshold) {
			if len(cluster) < 2 {
				continue
			}
			merged, err := c.mergeCluster(ctx, owner, t, cluster)
			if err != nil {
				c.logger.Warn("cluster merge failed",
					"owner", owner,
					"type", string(t),
					"size", len(cluster),
					"error", err,
				)
				continue
			}
			results = append(results, merged)
			c.metrics.consolidation(len(cluster))
		}
	}

	return results, nil
}

// clusterBySimilarity groups records by single-link lexical overlap: a
// record joins a cluster if it matches any already-clustered member at or
// above the threshold.
func clusterBySimilarity(records []Record, threshold float64) [][]Record {
	var clusters [][]Record

next:
	for i := range records {
		for ci := range clusters {
			for mi := range clusters[ci] {
				if OverlapSimilarity(records[i].Content, clusters[ci][mi].Content) >= threshold {
					clusters[ci] = append(clusters[ci], records[i])
					continue next
				}
			}
		}
		clusters = append(clusters, []Record{records[i]})
	}

	return clusters
}

// mergeCluster asks the model for a merged statement, stores the new record
// (max importance, union of tags, fresh embedding), then deletes the
// absorbed originals.
func (c *Consolidator) mergeCluster(ctx context.Context, owner string, t Type, cluster []Record) (MergeResult, error) {
	content, err := c.summarize(ctx, cluster)
	if err != nil {
		return MergeResult{}, err
	}
	if len(content) <= MinContentLength {
		return MergeResult{}, fmt.Errorf("%w: merged content too short", ErrMalformedResponse)
	}

	now := time.Now().UTC()
	merged := Record{
		ID:         NewID(),
		Owner:      owner,
		Content:    content,
		Type:       t,
		Importance: maxImportance(cluster),
		Tags:       unionTags(cluster),
		Source:     SourceRef{Kind: SourceConsolidation},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if vec, err := c.embedder.Embed(ctx, content); err == nil {
		merged.Embedding = vec
	} else {
		// Stored without embedding; retrieval skips it until a re-embed.
		c.logger.Warn("embedding merged memory failed", "owner", owner, "error", err)
	}

	if err := c.store.Create(ctx, merged); err != nil {
		return MergeResult{}, err
	}

	originalIDs := make([]string, 0, len(cluster))
	for i := range cluster {
		if err := c.store.Delete(ctx, owner, cluster[i].ID); err != nil {
			c.logger.Warn("deleting absorbed memory failed",
				"owner", owner,
				"id", cluster[i].ID,
				"error", err,
			)
			continue
		}
		originalIDs = append(originalIDs, cluster[i].ID)
	}

	return MergeResult{
		ConsolidatedID: merged.ID,
		OriginalIDs:    originalIDs,
		Content:        content,
	}, nil
}

// summarize asks the model to merge the cluster contents into one statement.
func (c *Consolidator) summarize(ctx context.Context, cluster []Record) (string, error) {
	var b strings.Builder
	b.WriteString("Merge these memories about the user:\n")
	for i := range cluster {
		b.WriteString("- ")
		b.WriteString(cluster[i].Content)
		b.WriteString("\n")
	}

	resp, err := c.provider.Complete(ctx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: consolidationSystemPrompt},
			{Role: provider.MessageRoleUser, Content: b.String()},
		},
		MaxTokens:   consolidateMaxTokens,
		Temperature: ptr(consolidateTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("memory: consolidation call failed: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

func maxImportance(cluster []Record) float64 {
	max := cluster[0].Importance
	for i := 1; i < len(cluster); i++ {
		if cluster[i].Importance > max {
			max = cluster[i].Importance
		}
	}
	return max
}

func unionTags(cluster []Record) []string {
	seen := make(map[string]struct{})
	var tags []string
	for i := range cluster {
		for _, tag := range cluster[i].Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	slices.Sort(tags)
	return tags
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engramd/engramd/internal/embedding"
	"github.com/engramd/engramd/internal/provider"
)

// Processing defaults.
const (
	// DefaultMinMessageLength is the shortest message worth extracting from.
	DefaultMinMessageLength = 20

	// DefaultRecentWindow is how many recent messages give extraction context.
	DefaultRecentWindow = 10

	// DefaultBatchSize and DefaultBatchDelay self-throttle history backfill
	// to respect provider rate limits. Not a scheduler: processing within
	// and across batches is strictly sequential.
	DefaultBatchSize  = 5
	DefaultBatchDelay = 1000 * time.Millisecond
)

// Skip reasons returned by ProcessNewMessage with Success=true.
const (
	ReasonMessageTooShort = "message too short for extraction"
	ReasonMemoryDisabled  = "memory disabled for user"
)

// Options tunes engine behavior. Zero values fall back to defaults.
type Options struct {
	MaxMemories            int
	MinImportance          float64
	RetrievalLimit         int
	RetrievalMinImportance float64
	MinMessageLength       int
	RecentWindow           int
	BatchSize              int
	BatchDelay             time.Duration
}

func (o *Options) defaults() {
	if o.MaxMemories <= 0 {
		o.MaxMemories = DefaultMaxMemories
	}
	if o.MinImportance <= 0 {
		o.MinImportance = DefaultMinImportance
	}
	if o.RetrievalLimit <= 0 {
		o.RetrievalLimit = DefaultRetrievalLimit
	}
	if o.RetrievalMinImportance <= 0 {
		o.RetrievalMinImportance = DefaultRetrievalMinImportance
	}
	if o.MinMessageLength <= 0 {
		o.MinMessageLength = DefaultMinMessageLength
	}
	if o.RecentWindow <= 0 {
		o.RecentWindow = DefaultRecentWindow
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = DefaultBatchDelay
	}
}

// EngineParams bundles the collaborators an Engine needs.
type EngineParams struct {
	Store    Store
	Chats    ChatStore
	Users    UserStore
	Provider provider.Provider
	Embedder embedding.Embedder
	Logger   *slog.Logger
	Metrics  *Metrics
	Options  Options
}

// Engine wires the extraction, retrieval, consolidation, and cleanup
// components over shared collaborators, and exposes the operations callers
// hook into ("after message saved", "build context for next call").
//
// All operations are request/response; the engine runs no background work
// of its own. Extraction, consolidation, and cleanup are best-effort
// personalization features: their failure must never block sending or
// displaying a chat message, so callers are expected to log returned errors
// rather than fail their own request.
type Engine struct {
	store        Store
	chats        ChatStore
	users        UserStore
	embedder     embedding.Embedder
	extractor    *Extractor
	retriever    *Retriever
	consolidator *Consolidator
	cleaner      *Cleaner
	logger       *slog.Logger
	metrics      *Metrics
	opts         Options

	// sleep is swappable in tests so batch delays don't slow the suite.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine from its collaborators.
func NewEngine(p EngineParams) *Engine {
	p.Options.defaults()
	logger := p.Logger
	if logger == nil {
		logger = slog.New(nopHandler{})
	}

	return &Engine{
		store:        p.Store,
		chats:        p.Chats,
		users:        p.Users,
		embedder:     p.Embedder,
		extractor:    NewExtractor(p.Provider, logger),
		retriever:    NewRetriever(p.Store, p.Embedder, logger, p.Metrics),
		consolidator: NewConsolidator(p.Store, p.Provider, p.Embedder, logger, p.Metrics),
		cleaner:      NewCleaner(p.Store, logger, p.Metrics),
		logger:       logger,
		metrics:      p.Metrics,
		opts:         p.Options,
		sleep:        sleepContext,
	}
}

// ExtractOutcome reports what one extraction pass stored.
type ExtractOutcome struct {
	Created    []Record `json:"created"`
	Duplicates int      `json:"duplicates"`
	Dropped    int      `json:"dropped"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// ExtractFromMessage runs the full extraction pipeline for one message:
// fetch the user's existing memories, ask the model for candidates, gate
// them through dedup, and store survivors with embeddings.
//
// The existing-memories snapshot is fetched here, per call, rather than
// reused across a batch: concurrent extractions for the same user would
// otherwise both pass dedup against a stale snapshot.
//
// Each stored record is embedded synchronously right after insert. An embed
// failure aborts only that item's embedding: the record stays, without an
// embedding, and retrieval skips it.
func (e *Engine) ExtractFromMessage(ctx context.Context, owner, content string, recent []ChatMessage, source SourceRef) (ExtractOutcome, error) {
	existing, err := e.store.ListByOwner(ctx, owner, Filter{})
	if err != nil {
		return ExtractOutcome{}, fmt.Errorf("memory: listing existing memories: %w", err)
	}

	contents := make([]string, len(existing))
	for i := range existing {
		contents[i] = existing[i].Content
	}

	extraction, err := e.extractor.Extract(ctx, content, recent, contents)
	if err != nil {
		e.metrics.extraction("error")
		return ExtractOutcome{}, err
	}
	e.metrics.extraction("ok")

	outcome := ExtractOutcome{
		Dropped:   extraction.Dropped,
		Reasoning: extraction.Reasoning,
	}

	for _, cand := range extraction.Candidates {
		sameType := filterByType(existing, cand.Type)
		if match := FindSimilar(cand.Content, sameType, ExtractionSimilarityThreshold); match.HasSimilar {
			e.logger.Debug("candidate deduplicated",
				"owner", owner,
				"similarity", match.Similarity,
				"existing_id", match.Match.ID,
			)
			outcome.Duplicates++
			continue
		}

		now := time.Now().UTC()
		rec := Record{
			ID:         NewID(),
			Owner:      owner,
			Content:    cand.Content,
			Type:       cand.Type,
			Importance: cand.Importance,
			Tags:       cand.Tags,
			Source:     source,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := rec.Validate(); err != nil {
			outcome.Dropped++
			continue
		}

		if err := e.store.Create(ctx, rec); err != nil {
			e.logger.Warn("storing extracted memory failed", "owner", owner, "error", err)
			continue
		}

		// Insert-then-embed: a crash here leaves the record without an
		// embedding until a maintenance pass re-embeds it.
		if vec, err := e.embedder.Embed(ctx, rec.Content); err == nil {
			rec.Embedding = vec
			rec.UpdatedAt = time.Now().UTC()
			if err := e.store.Update(ctx, rec); err != nil {
				e.logger.Warn("writing embedding failed", "owner", owner, "id", rec.ID, "error", err)
			}
		} else {
			e.logger.Warn("embedding new memory failed", "owner", owner, "id", rec.ID, "error", err)
		}

		outcome.Created = append(outcome.Created, rec)
		// Keep the in-call snapshot current so later candidates in this
		// same extraction dedup against what was just stored.
		existing = append(existing, rec)
	}

	e.metrics.candidate("stored", len(outcome.Created))
	e.metrics.candidate("duplicate", outcome.Duplicates)
	e.metrics.candidate("dropped", outcome.Dropped)

	return outcome, nil
}

// ProcessResult is the outcome of the auto-extraction hook.
type ProcessResult struct {
	Success           bool   `json:"success"`
	MemoriesExtracted int    `json:"memories_extracted"`
	Reason            string `json:"reason,omitempty"`
}

// ProcessNewMessage is the "after message saved" hook. It skips short
// messages and users with memory disabled (both with Success=true and a
// reason, no model calls made), then runs extraction with the recent
// conversation window as context.
func (e *Engine) ProcessNewMessage(ctx context.Context, messageID string) (ProcessResult, error) {
	msg, err := e.chats.MessageByID(ctx, messageID)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("memory: loading message %s: %w", messageID, err)
	}

	return e.processMessage(ctx, msg)
}

func (e *Engine) processMessage(ctx context.Context, msg ChatMessage) (ProcessResult, error) {
	if len(msg.Content) < e.opts.MinMessageLength {
		return ProcessResult{Success: true, Reason: ReasonMessageTooShort}, nil
	}

	prefs, err := e.users.Preferences(ctx, msg.UserID)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("memory: loading preferences for %s: %w", msg.UserID, err)
	}
	if !prefs.EnableMemory {
		return ProcessResult{Success: true, Reason: ReasonMemoryDisabled}, nil
	}

	recent, err := e.chats.RecentMessages(ctx, msg.ChatID, e.opts.RecentWindow)
	if err != nil {
		// Context is a nice-to-have; extraction still works without it.
		e.logger.Debug("loading recent messages failed", "chat", msg.ChatID, "error", err)
		recent = nil
	}

	outcome, err := e.ExtractFromMessage(ctx, msg.UserID, msg.Content, recent, SourceRef{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Kind:      SourceMessage,
	})
	if err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{Success: true, MemoriesExtracted: len(outcome.Created)}, nil
}

// HistoryResult summarizes a chat-history backfill.
type HistoryResult struct {
	Processed int `json:"processed"`
	Extracted int `json:"extracted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ProcessChatHistory backfills memories from a chat's full history. Messages
// are processed strictly sequentially in fixed-size batches with a fixed
// delay between batches, a deliberate self-throttle for provider rate
// limits. Per-message failures are isolated; one failed extraction does not
// abort the batch.
func (e *Engine) ProcessChatHistory(ctx context.Context, chatID string) (HistoryResult, error) {
	msgs, err := e.chats.Messages(ctx, chatID)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("memory: loading chat %s: %w", chatID, err)
	}

	var result HistoryResult
	for i, msg := range msgs {
		if i > 0 && i%e.opts.BatchSize == 0 {
			if err := e.sleep(ctx, e.opts.BatchDelay); err != nil {
				return result, err
			}
		}

		if msg.Role != "user" {
			result.Skipped++
			continue
		}

		res, err := e.processMessage(ctx, msg)
		if err != nil {
			e.logger.Warn("history extraction failed",
				"chat", chatID,
				"message", msg.ID,
				"error", err,
			)
			result.Failed++
			continue
		}

		result.Processed++
		if res.Reason != "" {
			result.Skipped++
			continue
		}
		result.Extracted += res.MemoriesExtracted
	}

	return result, nil
}

// Consolidate merges near-duplicate memories for a user. Pass an empty
// type to process all types.
func (e *Engine) Consolidate(ctx context.Context, owner string, typeFilter Type) ([]MergeResult, error) {
	return e.consolidator.Consolidate(ctx, owner, typeFilter)
}

// Cleanup evicts low-value memories for a user using the engine's
// configured cap and floor.
func (e *Engine) Cleanup(ctx context.Context, owner string) (CleanupResult, error) {
	return e.cleaner.Cleanup(ctx, owner, e.opts.MaxMemories, e.opts.MinImportance)
}

// CleanupWith evicts with explicit limits, for admin-triggered runs.
func (e *Engine) CleanupWith(ctx context.Context, owner string, maxMemories int, minImportance float64) (CleanupResult, error) {
	return e.cleaner.Cleanup(ctx, owner, maxMemories, minImportance)
}

// GetRelevantMemories returns the user's memories ranked against the query.
func (e *Engine) GetRelevantMemories(ctx context.Context, owner, query string) (RetrievalResult, error) {
	return e.retriever.Retrieve(ctx, owner, query, RetrieveOptions{
		Limit:         e.opts.RetrievalLimit,
		MinImportance: e.opts.RetrievalMinImportance,
	})
}

// GetMemoryContext retrieves relevant memories and renders them as a
// prompt-injectable block. Returns an empty string when nothing relevant
// is stored or retrieval degraded.
func (e *Engine) GetMemoryContext(ctx context.Context, owner, query string) (string, error) {
	result, err := e.GetRelevantMemories(ctx, owner, query)
	if err != nil {
		return "", err
	}
	return FormatContext(result.Memories), nil
}

// Stats summarizes a user's memory store.
type Stats struct {
	Total             int          `json:"total"`
	ByType            map[Type]int `json:"by_type"`
	AverageImportance float64      `json:"average_importance"`
	CreatedLastWeek   int          `json:"created_last_week"`
}

// GetMemoryStats computes counts, average importance, and recent activity
// for one user.
func (e *Engine) GetMemoryStats(ctx context.Context, owner string) (Stats, error) {
	records, err := e.store.ListByOwner(ctx, owner, Filter{})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:  len(records),
		ByType: make(map[Type]int),
	}

	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	var importanceSum float64
	for i := range records {
		stats.ByType[records[i].Type]++
		importanceSum += records[i].Importance
		if records[i].CreatedAt.After(weekAgo) {
			stats.CreatedLastWeek++
		}
	}
	if stats.Total > 0 {
		stats.AverageImportance = importanceSum / float64(stats.Total)
	}

	return stats, nil
}

// Options returns the engine's effective (defaulted) options.
func (e *Engine) Options() Options {
	return e.opts
}

func filterByType(records []Record, t Type) []Record {
	var out []Record
	for i := range records {
		if records[i].Type == t {
			out = append(out, records[i])
		}
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsNotFound reports whether err is any of the engine's not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

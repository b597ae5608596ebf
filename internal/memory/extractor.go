package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/engramd/engramd/internal/provider"
)

// Extraction call tuning. Low temperature keeps the classification stable;
// the token cap bounds cost per message.
const (
	extractTemperature = 0.1
	extractMaxTokens   = 1024

	// defaultMaxRetries is the retry budget for transient provider errors.
	// Parse errors are never retried.
	defaultMaxRetries = 2

	// defaultRetryDelay is the fixed delay for transient errors that are
	// not rate limits. Rate limits use an exponential schedule instead.
	defaultRetryDelay = 2 * time.Second
)

// Candidate is one memory proposed by the extraction model, before the
// dedup gate and storage.
type Candidate struct {
	Content    string   `json:"content"`
	Type       Type     `json:"type"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
	Reasoning  string   `json:"reasoning"`
}

// ExtractionResult is the ephemeral output of one extraction call.
// It is never persisted.
type ExtractionResult struct {
	Candidates []Candidate
	Reasoning  string

	// Dropped counts candidates removed by the validation post-filter
	// (importance below floor, unknown type, short content).
	Dropped int
}

// extractionSchema is the strict JSON shape the model must return.
type extractionSchema struct {
	Memories  []Candidate `json:"memories"`
	Reasoning string      `json:"reasoning"`
}

const extractionSystemPrompt = `You are a memory extraction system. Analyze the user's message and identify lasting, user-specific information worth remembering across conversations.

Classify each memory as one of exactly five types:
- "fact": identity and personal details (name, location, occupation, relationships)
- "preference": likes, dislikes, settings, styles the user prefers
- "skill": abilities, expertise, technologies the user knows or works with
- "goal": objectives, plans, things the user wants to achieve
- "context": current situation or ongoing work relevant to near-term conversations

Score importance from 0.0 to 1.0:
- 0.9-1.0: critical identity facts (name, profession)
- 0.7-0.9: recurring patterns and strong preferences
- 0.5-0.7: useful context and skills
- 0.3-0.5: minor details
- below 0.3: not worth storing; omit entirely

Do not extract information that duplicates the existing memories provided.
Do not extract transient chit-chat, questions, or information about anyone other than the user.

Respond with strict JSON only, no prose, using this shape:
{"memories":[{"content":"...","type":"fact","importance":0.9,"tags":["..."],"reasoning":"..."}],"reasoning":"..."}

If nothing is worth remembering, respond with {"memories":[],"reasoning":"..."}.`

// Extractor turns message text into candidate memory records using a
// completion provider.
type Extractor struct {
	provider   provider.Provider
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration

	// newBackOff builds the exponential schedule used for rate limits.
	// Overridable in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

// NewExtractor creates an extractor with default retry policy.
// A nil logger discards log output.
func NewExtractor(p provider.Provider, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	return &Extractor{
		provider:   p,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Extract asks the model for candidate memories in the given message.
// recent provides conversational context for disambiguation; existing lists
// the user's current memory contents so the model avoids duplicates.
//
// Transient provider errors are retried within the fixed budget; malformed
// responses fail immediately with ErrMalformedResponse. Candidates failing
// the importance/type/length filter are dropped silently.
func (e *Extractor) Extract(ctx context.Context, content string, recent []ChatMessage, existing []string) (ExtractionResult, error) {
	req := provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: extractionSystemPrompt},
			{Role: provider.MessageRoleUser, Content: buildExtractionInput(content, recent, existing)},
		},
		MaxTokens:   extractMaxTokens,
		Temperature: ptr(extractTemperature),
	}

	resp, err := e.completeWithRetry(ctx, req)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("memory: extraction failed: %w", err)
	}

	parsed, err := parseExtraction(resp.Content)
	if err != nil {
		return ExtractionResult{}, err
	}

	result := ExtractionResult{Reasoning: parsed.Reasoning}
	for _, c := range parsed.Memories {
		if !validCandidate(c) {
			result.Dropped++
			continue
		}
		result.Candidates = append(result.Candidates, c)
	}

	if result.Dropped > 0 {
		e.logger.Debug("extraction candidates dropped by filter",
			"dropped", result.Dropped,
			"kept", len(result.Candidates),
		)
	}

	return result, nil
}

// completeWithRetry calls the provider, retrying transient errors within
// the budget. Rate limits back off exponentially; other transient errors
// wait a fixed delay.
func (e *Extractor) completeWithRetry(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	rateLimitSchedule := e.newBackOff()

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay
			if provider.IsRateLimit(lastErr) {
				delay = rateLimitSchedule.NextBackOff()
			}
			e.logger.Debug("retrying extraction call",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return provider.CompletionResponse{}, ctx.Err()
			}
		}

		resp, err := e.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !provider.IsRetryable(err) {
			return provider.CompletionResponse{}, err
		}
		lastErr = err
	}

	return provider.CompletionResponse{}, lastErr
}

// parseExtraction decodes the model response as strict JSON. A surrounding
// markdown code fence is tolerated; anything else non-JSON is a hard failure.
func parseExtraction(raw string) (extractionSchema, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var parsed extractionSchema
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return extractionSchema{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return parsed, nil
}

// validCandidate applies the post-filter: importance floor, known type,
// minimum content length.
func validCandidate(c Candidate) bool {
	return c.Importance >= MinStoredImportance &&
		c.Importance <= 1 &&
		c.Type.Valid() &&
		len(c.Content) > MinContentLength
}

// buildExtractionInput renders the user message, recent conversation window,
// and existing memory contents into the model input.
func buildExtractionInput(content string, recent []ChatMessage, existing []string) string {
	var b strings.Builder

	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range recent {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(existing) > 0 {
		b.WriteString("Existing memories (do not duplicate):\n")
		for _, s := range existing {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Message to analyze:\n")
	b.WriteString(content)

	return b.String()
}

func ptr[T any](v T) *T { return &v }

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

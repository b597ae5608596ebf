package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/engramd/engramd/internal/provider"
	"github.com/engramd/engramd/internal/provider/providertest"
)

// zeroBackOff removes waits from rate-limit retries in tests.
type zeroBackOff struct{}

func (zeroBackOff) NextBackOff() time.Duration { return 0 }
func (zeroBackOff) Reset()                     {}

func newTestExtractor(p provider.Provider) *Extractor {
	e := NewExtractor(p, nil)
	e.retryDelay = 0
	e.newBackOff = func() backoff.BackOff { return zeroBackOff{} }
	return e
}

func jsonResponse(body string) func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	return func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
		return provider.CompletionResponse{Content: body, FinishReason: provider.FinishReasonStop}, nil
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	mp := &providertest.MockProvider{
		CompleteFunc: jsonResponse(`{
			"memories": [
				{"content": "User's name is Alex", "type": "fact", "importance": 0.95, "tags": ["identity"]},
				{"content": "Works as a Rust developer on database engines", "type": "skill", "importance": 0.8, "tags": ["rust", "databases"]},
				{"content": "Said hello", "type": "context", "importance": 0.1}
			],
			"reasoning": "identity and occupation are durable"
		}`),
	}

	e := newTestExtractor(mp)
	result, err := e.Extract(context.Background(), "My name is Alex and I write Rust database engines.", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(result.Candidates) != 2 {
		t.Fatalf("kept %d candidates, want 2: %+v", len(result.Candidates), result.Candidates)
	}
	if result.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1 (importance below floor)", result.Dropped)
	}
	if result.Candidates[0].Type != TypeFact || result.Candidates[1].Type != TypeSkill {
		t.Errorf("candidate types = %q, %q", result.Candidates[0].Type, result.Candidates[1].Type)
	}
	if result.Reasoning == "" {
		t.Error("reasoning not carried through")
	}
	if mp.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", mp.Calls())
	}
}

func TestExtract_InputIncludesContext(t *testing.T) {
	t.Parallel()

	mp := &providertest.MockProvider{
		CompleteFunc: jsonResponse(`{"memories":[],"reasoning":"nothing new"}`),
	}
	e := newTestExtractor(mp)

	recent := []ChatMessage{
		{Role: "user", Content: "what editor should I use"},
		{Role: "assistant", Content: "depends on your workflow"},
	}
	existing := []string{"User's name is Alex"}

	if _, err := e.Extract(context.Background(), "I always use vim for everything.", recent, existing); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	input := mp.LastRequest.Messages[len(mp.LastRequest.Messages)-1].Content
	for _, want := range []string{
		"Recent conversation:",
		"user: what editor should I use",
		"Existing memories (do not duplicate):",
		"- User's name is Alex",
		"Message to analyze:",
		"I always use vim for everything.",
	} {
		if !strings.Contains(input, want) {
			t.Errorf("extraction input missing %q\ninput:\n%s", want, input)
		}
	}
}

func TestExtract_TolerantOfCodeFence(t *testing.T) {
	t.Parallel()

	mp := &providertest.MockProvider{
		CompleteFunc: jsonResponse("```json\n{\"memories\":[],\"reasoning\":\"nothing\"}\n```"),
	}
	e := newTestExtractor(mp)

	result, err := e.Extract(context.Background(), "some long enough message here", nil, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("candidates = %+v, want none", result.Candidates)
	}
}

func TestExtract_MalformedResponseNotRetried(t *testing.T) {
	t.Parallel()

	mp := &providertest.MockProvider{
		CompleteFunc: jsonResponse("Sure! Here are the memories I found: none."),
	}
	e := newTestExtractor(mp)

	_, err := e.Extract(context.Background(), "some long enough message here", nil, nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
	if mp.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (parse failures must not retry)", mp.Calls())
	}
}

func TestExtract_RetriesRateLimit(t *testing.T) {
	t.Parallel()

	calls := 0
	mp := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
			calls++
			if calls <= 2 {
				return provider.CompletionResponse{}, provider.ErrRateLimit
			}
			return provider.CompletionResponse{Content: `{"memories":[],"reasoning":"ok"}`}, nil
		},
	}
	e := newTestExtractor(mp)

	if _, err := e.Extract(context.Background(), "some long enough message here", nil, nil); err != nil {
		t.Fatalf("Extract after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("provider calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestExtract_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	mp := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrProviderDown
		},
	}
	e := newTestExtractor(mp)

	_, err := e.Extract(context.Background(), "some long enough message here", nil, nil)
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("err = %v, want ErrProviderDown", err)
	}
	if mp.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3 (initial + 2 retries)", mp.Calls())
	}
}

func TestExtract_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	mp := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrContextLength
		},
	}
	e := newTestExtractor(mp)

	_, err := e.Extract(context.Background(), "some long enough message here", nil, nil)
	if !errors.Is(err, provider.ErrContextLength) {
		t.Fatalf("err = %v, want ErrContextLength", err)
	}
	if mp.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", mp.Calls())
	}
}

func TestValidCandidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    Candidate
		want bool
	}{
		{
			name: "valid",
			c:    Candidate{Content: "prefers dark mode", Type: TypePreference, Importance: 0.7},
			want: true,
		},
		{
			name: "importance at floor",
			c:    Candidate{Content: "prefers dark mode", Type: TypePreference, Importance: MinStoredImportance},
			want: true,
		},
		{
			name: "importance below floor",
			c:    Candidate{Content: "prefers dark mode", Type: TypePreference, Importance: 0.29},
			want: false,
		},
		{
			name: "importance above one",
			c:    Candidate{Content: "prefers dark mode", Type: TypePreference, Importance: 1.2},
			want: false,
		},
		{
			name: "unknown type",
			c:    Candidate{Content: "prefers dark mode", Type: "vibe", Importance: 0.7},
			want: false,
		},
		{
			name: "content too short",
			c:    Candidate{Content: "dark mode", Type: TypePreference, Importance: 0.7},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := validCandidate(tt.c); got != tt.want {
				t.Errorf("validCandidate(%+v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/engramd/engramd/internal/embedding/embeddingtest"
)

func seedRecord(t *testing.T, store Store, rec Record) Record {
	t.Helper()

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
		rec.UpdatedAt = rec.CreatedAt
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("seeding record: %v", err)
	}
	return rec
}

func TestRetrieve_RanksBySimilarityTimesImportance(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	// Unit vectors against query [1, 0]: cosine equals the first component.
	seedRecord(t, store, Record{
		ID: "close-but-trivial", Owner: "u1", Type: TypeContext,
		Content:    "mentioned the weather was nice today",
		Importance: 0.2,
		Embedding:  []float32{0.9, 0.43588989},
	})
	seedRecord(t, store, Record{
		ID: "further-but-vital", Owner: "u1", Type: TypeFact,
		Content:    "works as a surgeon at the city hospital",
		Importance: 0.9,
		Embedding:  []float32{0.5, 0.8660254},
	})

	emb := embeddingtest.New()
	emb.EmbedFunc = func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}

	r := NewRetriever(store, emb, nil, nil)
	result, err := r.Retrieve(context.Background(), "u1", "what do they do", RetrieveOptions{MinImportance: 0.1})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if result.Found != 2 || len(result.Memories) != 2 {
		t.Fatalf("found %d, returned %d, want 2 and 2", result.Found, len(result.Memories))
	}

	// 0.5 x 0.9 = 0.45 beats 0.9 x 0.2 = 0.18.
	if result.Memories[0].ID != "further-but-vital" {
		t.Errorf("top result = %q, want further-but-vital", result.Memories[0].ID)
	}
	if got := result.Memories[0].Relevance; math.Abs(got-0.45) > 1e-6 {
		t.Errorf("top relevance = %v, want 0.45", got)
	}
	if got := result.Memories[1].Relevance; math.Abs(got-0.18) > 1e-6 {
		t.Errorf("second relevance = %v, want 0.18", got)
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	for _, id := range []string{"b-record", "a-record", "c-record"} {
		seedRecord(t, store, Record{
			ID: id, Owner: "u1", Type: TypeFact,
			Content:    "equally relevant statement " + id,
			Importance: 0.5,
			Embedding:  []float32{1, 0},
		})
	}

	emb := embeddingtest.New()
	emb.EmbedFunc = func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}
	r := NewRetriever(store, emb, nil, nil)

	first, err := r.Retrieve(context.Background(), "u1", "query", RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	second, err := r.Retrieve(context.Background(), "u1", "query", RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	for i := range first.Memories {
		if first.Memories[i].ID != second.Memories[i].ID {
			t.Fatalf("order differs between identical calls at %d: %q vs %q",
				i, first.Memories[i].ID, second.Memories[i].ID)
		}
	}
	// Ties break on ID.
	wantOrder := []string{"a-record", "b-record", "c-record"}
	for i, want := range wantOrder {
		if first.Memories[i].ID != want {
			t.Errorf("position %d = %q, want %q", i, first.Memories[i].ID, want)
		}
	}
}

func TestRetrieve_LimitAndFound(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	for i := 0; i < 4; i++ {
		seedRecord(t, store, Record{
			Owner: "u1", Type: TypeFact,
			Content:    "statement number with some padding",
			Importance: 0.5,
			Embedding:  []float32{1, 0},
		})
	}

	r := NewRetriever(store, embeddingtest.New(), nil, nil)
	result, err := r.Retrieve(context.Background(), "u1", "query", RetrieveOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if result.Found != 4 {
		t.Errorf("Found = %d, want 4", result.Found)
	}
	if len(result.Memories) != 2 {
		t.Errorf("returned %d, want 2", len(result.Memories))
	}
}

func TestRetrieve_FiltersLowImportanceAndMissingEmbeddings(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		ID: "kept", Owner: "u1", Type: TypeFact,
		Content: "important enough and embedded", Importance: 0.5,
		Embedding: []float32{1, 0},
	})
	seedRecord(t, store, Record{
		ID: "too-minor", Owner: "u1", Type: TypeFact,
		Content: "below the importance threshold", Importance: 0.2,
		Embedding: []float32{1, 0},
	})
	seedRecord(t, store, Record{
		ID: "no-embedding", Owner: "u1", Type: TypeFact,
		Content: "stored before embedding completed", Importance: 0.9,
	})

	r := NewRetriever(store, embeddingtest.New(), nil, nil)
	result, err := r.Retrieve(context.Background(), "u1", "query", RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(result.Memories) != 1 || result.Memories[0].ID != "kept" {
		t.Fatalf("memories = %+v, want only the kept record", result.Memories)
	}
}

func TestRetrieve_DegradesOnEmbeddingFailure(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		Owner: "u1", Type: TypeFact,
		Content: "would be relevant if we could search", Importance: 0.9,
		Embedding: []float32{1, 0},
	})

	emb := embeddingtest.New()
	emb.EmbedFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding service unavailable")
	}

	r := NewRetriever(store, emb, nil, nil)
	result, err := r.Retrieve(context.Background(), "u1", "query", RetrieveOptions{})
	if err != nil {
		t.Fatalf("degraded retrieval must not error: %v", err)
	}
	if !result.Degraded {
		t.Error("Degraded = false, want true")
	}
	if len(result.Memories) != 0 {
		t.Errorf("memories = %+v, want empty", result.Memories)
	}
}

func TestRetrieve_TouchesReturnedRecords(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	rec := seedRecord(t, store, Record{
		ID: "touched", Owner: "u1", Type: TypeFact,
		Content: "retrieval bumps the access count", Importance: 0.5,
		Embedding: []float32{1, 0},
	})

	r := NewRetriever(store, embeddingtest.New(), nil, nil)
	result, err := r.Retrieve(context.Background(), "u1", "query", RetrieveOptions{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("returned %d memories, want 1", len(result.Memories))
	}
	if result.Memories[0].AccessCount != 1 {
		t.Errorf("returned AccessCount = %d, want 1", result.Memories[0].AccessCount)
	}

	stored, err := store.Get(context.Background(), "u1", rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.AccessCount != 1 {
		t.Errorf("stored AccessCount = %d, want 1", stored.AccessCount)
	}
	if stored.LastAccessed == nil {
		t.Error("stored LastAccessed not set")
	}
}

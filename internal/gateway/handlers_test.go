package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/engramd/engramd/internal/memory"
)

func TestIngestMessage(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})
	deps.prov.content = `{"memories":[{"content":"works as a pediatric nurse","type":"fact","importance":0.8,"tags":["job"]}]}`

	rec := doJSON(t, g, http.MethodPost, "/api/messages", ingestRequest{
		ChatID:  "chat-1",
		UserID:  "alex",
		Content: "I work as a pediatric nurse at the children's hospital",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ingestResponse
	decodeBody(t, rec, &resp)

	if resp.MessageID == "" {
		t.Error("message id not assigned")
	}
	if resp.Extraction == nil || resp.Extraction.MemoriesExtracted != 1 {
		t.Errorf("extraction = %+v, want 1 memory", resp.Extraction)
	}

	// Message persisted.
	if _, err := deps.chats.MessageByID(context.Background(), resp.MessageID); err != nil {
		t.Errorf("saved message not found: %v", err)
	}

	// Memory stored.
	records, err := deps.store.ListByOwner(context.Background(), "alex", memory.Filter{})
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(records) != 1 || records[0].Content != "works as a pediatric nurse" {
		t.Errorf("stored records = %+v", records)
	}
}

func TestIngestMessage_ShortMessageSkipsExtraction(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, AuthConfig{})

	rec := doJSON(t, g, http.MethodPost, "/api/messages", ingestRequest{
		ChatID:  "chat-1",
		UserID:  "alex",
		Content: "ok thanks",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d", rec.Code)
	}

	var resp ingestResponse
	decodeBody(t, rec, &resp)
	if resp.Extraction == nil || resp.Extraction.Reason != memory.ReasonMessageTooShort {
		t.Errorf("extraction = %+v, want too-short skip", resp.Extraction)
	}
}

func TestIngestMessage_AssistantRoleSavedWithoutExtraction(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})

	rec := doJSON(t, g, http.MethodPost, "/api/messages", ingestRequest{
		ChatID:  "chat-1",
		UserID:  "alex",
		Role:    "assistant",
		Content: "Sure, I can help you with that scheduling question.",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d", rec.Code)
	}

	var resp ingestResponse
	decodeBody(t, rec, &resp)
	if resp.Extraction != nil {
		t.Errorf("extraction ran for assistant message: %+v", resp.Extraction)
	}

	msg, err := deps.chats.MessageByID(context.Background(), resp.MessageID)
	if err != nil {
		t.Fatalf("saved message not found: %v", err)
	}
	if msg.Role != "assistant" {
		t.Errorf("role = %q", msg.Role)
	}
}

func TestIngestMessage_MissingFields(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, AuthConfig{})

	rec := doJSON(t, g, http.MethodPost, "/api/messages", ingestRequest{UserID: "alex"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestContextEndpoint(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})
	seedEmbedded(t, deps.store, "alex", "prefers morning appointments", memory.TypePreference, 0.9)

	rec := doJSON(t, g, http.MethodGet, "/api/users/alex/context?q=prefers+morning+appointments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["context"] == "" {
		t.Error("context is empty, want formatted block")
	}
}

func TestContextEndpoint_MissingQuery(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, AuthConfig{})

	rec := doJSON(t, g, http.MethodGet, "/api/users/alex/context", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", rec.Code)
	}
}

func TestListMemories(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})
	seedRecord(t, deps.store, memory.Record{
		Owner: "alex", Content: "works as a nurse", Type: memory.TypeFact, Importance: 0.8,
	})
	seedRecord(t, deps.store, memory.Record{
		Owner: "alex", Content: "prefers dark mode", Type: memory.TypePreference, Importance: 0.5,
	})

	rec := doJSON(t, g, http.MethodGet, "/api/users/alex/memories", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var resp listResponse
	decodeBody(t, rec, &resp)
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}

	// Type filter narrows the list.
	rec = doJSON(t, g, http.MethodGet, "/api/users/alex/memories?type=preference", nil)
	decodeBody(t, rec, &resp)
	if resp.Total != 1 || resp.Memories[0].Type != memory.TypePreference {
		t.Errorf("filtered response = %+v", resp)
	}

	// Unknown type rejected.
	rec = doJSON(t, g, http.MethodGet, "/api/users/alex/memories?type=opinion", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type code = %d, want 400", rec.Code)
	}
}

func TestListMemories_Search(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})
	seedEmbedded(t, deps.store, "alex", "trains for a marathon in spring", memory.TypeGoal, 0.9)

	rec := doJSON(t, g, http.MethodGet, "/api/users/alex/memories?q=trains+for+a+marathon+in+spring", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var result memory.RetrievalResult
	decodeBody(t, rec, &result)
	if result.Found != 1 || len(result.Memories) != 1 {
		t.Fatalf("result = %+v, want 1 hit", result)
	}
	if result.Memories[0].Relevance <= 0 {
		t.Errorf("relevance = %v, want > 0", result.Memories[0].Relevance)
	}
}

func TestDeleteMemory(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})
	stored := seedRecord(t, deps.store, memory.Record{
		Owner: "alex", Content: "works as a nurse", Type: memory.TypeFact, Importance: 0.8,
	})

	rec := doJSON(t, g, http.MethodDelete, "/api/users/alex/memories/"+stored.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("code = %d, want 204", rec.Code)
	}

	rec = doJSON(t, g, http.MethodDelete, "/api/users/alex/memories/"+stored.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete code = %d, want 404", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})
	seedRecord(t, deps.store, memory.Record{
		Owner: "alex", Content: "works as a nurse", Type: memory.TypeFact, Importance: 0.8,
	})
	seedRecord(t, deps.store, memory.Record{
		Owner: "alex", Content: "prefers dark mode", Type: memory.TypePreference, Importance: 0.4,
	})

	rec := doJSON(t, g, http.MethodGet, "/api/users/alex/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var stats memory.Stats
	decodeBody(t, rec, &stats)
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByType[memory.TypeFact] != 1 {
		t.Errorf("ByType = %+v", stats.ByType)
	}
}

func TestSetPreferences(t *testing.T) {
	t.Parallel()

	g, deps := newTestGateway(t, AuthConfig{})

	rec := doJSON(t, g, http.MethodPut, "/api/users/alex/preferences", preferencesRequest{EnableMemory: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	prefs, err := deps.users.Preferences(context.Background(), "alex")
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if prefs.EnableMemory {
		t.Error("EnableMemory still true after opt-out")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, AuthConfig{})

	rec := doJSON(t, g, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" || !resp.EngineReady {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_EngineNotReady(t *testing.T) {
	t.Parallel()

	g, _ := newTestGateway(t, AuthConfig{})
	// Shadow the engine registration so resolution fails.
	g.appCtx.RegisterService("memory.engine", nil)

	rec := doJSON(t, g, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "starting" || resp.EngineReady {
		t.Errorf("health = %+v", resp)
	}
}

// seedEmbedded stores a record whose embedding matches the mock embedder's
// vector for the same text, so retrieving with that text as the query
// yields similarity near 1.
func seedEmbedded(t *testing.T, store memory.Store, owner, content string, typ memory.Type, importance float64) memory.Record {
	t.Helper()

	rec := memory.Record{
		Owner:      owner,
		Content:    content,
		Type:       typ,
		Importance: importance,
		Embedding:  hashVector(content),
	}
	return seedRecord(t, store, rec)
}

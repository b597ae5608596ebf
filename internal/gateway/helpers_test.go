package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/engramd/engramd/internal/core"
	"github.com/engramd/engramd/internal/embedding/embeddingtest"
	"github.com/engramd/engramd/internal/memory"
	"github.com/engramd/engramd/internal/provider"
)

// fakeChats is an in-memory chat store with write support.
type fakeChats struct {
	mu   sync.Mutex
	byID map[string]memory.ChatMessage
}

func newFakeChats() *fakeChats {
	return &fakeChats{byID: make(map[string]memory.ChatMessage)}
}

func (f *fakeChats) SaveMessage(_ context.Context, msg memory.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[msg.ID] = msg
	return nil
}

func (f *fakeChats) MessageByID(_ context.Context, id string) (memory.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.byID[id]
	if !ok {
		return memory.ChatMessage{}, memory.ErrMessageNotFound
	}
	return msg, nil
}

func (f *fakeChats) RecentMessages(_ context.Context, chatID string, n int) ([]memory.ChatMessage, error) {
	return f.Messages(context.Background(), chatID)
}

func (f *fakeChats) Messages(_ context.Context, chatID string) ([]memory.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []memory.ChatMessage
	for _, msg := range f.byID {
		if msg.ChatID == chatID {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// fakeUsers is an in-memory user store with write support.
type fakeUsers struct {
	mu    sync.Mutex
	prefs map[string]memory.Preferences
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{prefs: make(map[string]memory.Preferences)}
}

func (f *fakeUsers) Preferences(_ context.Context, userID string) (memory.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return memory.Preferences{EnableMemory: true}, nil
}

func (f *fakeUsers) SetPreferences(_ context.Context, userID string, prefs memory.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[userID] = prefs
	return nil
}

// fakeProvider returns a fixed completion.
type fakeProvider struct {
	content string
}

func (f *fakeProvider) Complete(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	content := f.content
	if content == "" {
		content = `{"memories":[]}`
	}
	return provider.CompletionResponse{Content: content, FinishReason: provider.FinishReasonStop}, nil
}

func (f *fakeProvider) ModelName() string { return "fake-model" }

// testDeps bundles the fakes behind a test gateway.
type testDeps struct {
	store *memory.InMemoryStore
	chats *fakeChats
	users *fakeUsers
	prov  *fakeProvider
}

// newTestGateway builds a gateway whose service registry holds an engine
// over in-memory fakes.
func newTestGateway(t *testing.T, auth AuthConfig) (*Gateway, testDeps) {
	t.Helper()

	deps := testDeps{
		store: memory.NewInMemoryStore(),
		chats: newFakeChats(),
		users: newFakeUsers(),
		prov:  &fakeProvider{},
	}

	eng := memory.NewEngine(memory.EngineParams{
		Store:    deps.store,
		Chats:    deps.chats,
		Users:    deps.users,
		Provider: deps.prov,
		Embedder: embeddingtest.New(),
	})

	ctx := core.NewAppContext(nil, t.TempDir())
	ctx.RegisterService("memory.engine", eng)
	ctx.RegisterService("memory.store", deps.store)
	ctx.RegisterService("memory.chats", deps.chats)
	ctx.RegisterService("memory.users", deps.users)

	g := &Gateway{appCtx: ctx, logger: ctx.Logger, startedAt: time.Now()}
	g.config.Auth = auth
	g.config.defaults()

	return g, deps
}

// doJSON issues a request with an optional JSON body against the gateway
// router and returns the recorder.
func doJSON(t *testing.T, g *Gateway, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	g.buildRouter().ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a recorder's JSON body into v.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// hashVector mirrors the mock embedder's deterministic vector for text.
func hashVector(text string) []float32 {
	return embeddingtest.HashVector(text, embeddingtest.DefaultDimensions)
}

// seedRecord stores a record with sane defaults filled in.
func seedRecord(t *testing.T, store memory.Store, rec memory.Record) memory.Record {
	t.Helper()

	if rec.ID == "" {
		rec.ID = memory.NewID()
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

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/engramd/engramd/internal/memory"
)

func openTestStores(t *testing.T) Stores {
	t.Helper()

	stores, db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return stores
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	accessed := now.Add(-time.Hour)
	rec := memory.Record{
		ID:         memory.NewID(),
		Owner:      "u1",
		Content:    "works as a veterinarian in oslo",
		Type:       memory.TypeFact,
		Importance: 0.9,
		Tags:       []string{"occupation", "location"},
		Embedding:  []float32{0.25, -0.5, 0.75},
		Source: memory.SourceRef{
			ChatID:    "c1",
			MessageID: "m1",
			Kind:      memory.SourceMessage,
		},
		AccessCount:  2,
		LastAccessed: &accessed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := stores.Store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := stores.Store.Get(ctx, "u1", rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.Content != rec.Content || got.Type != rec.Type || got.Importance != rec.Importance {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "occupation" {
		t.Errorf("tags = %v, want %v", got.Tags, rec.Tags)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != -0.5 {
		t.Errorf("embedding = %v, want %v", got.Embedding, rec.Embedding)
	}
	if got.Source != rec.Source {
		t.Errorf("source = %+v, want %+v", got.Source, rec.Source)
	}
	if got.AccessCount != 2 || got.LastAccessed == nil {
		t.Errorf("access tracking = %d/%v", got.AccessCount, got.LastAccessed)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, now)
	}
}

func TestStore_CreateValidates(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	err := stores.Store.Create(context.Background(), memory.Record{
		ID: memory.NewID(), Owner: "u1", Type: "vibe",
		Content: "long enough content here", Importance: 0.5,
	})
	if !errors.Is(err, memory.ErrInvalidRecord) {
		t.Fatalf("Create = %v, want ErrInvalidRecord", err)
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()

	rec := memory.Record{
		ID: memory.NewID(), Owner: "u1", Type: memory.TypeFact,
		Content: "lives in lisbon with two cats", Importance: 0.7,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := stores.Store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec.Content = "lives in porto with two cats"
	rec.Embedding = []float32{1, 0}
	rec.UpdatedAt = time.Now().UTC()
	if err := stores.Store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := stores.Store.Get(ctx, "u1", rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != rec.Content || len(got.Embedding) != 2 {
		t.Errorf("update not applied: %+v", got)
	}

	if err := stores.Store.Delete(ctx, "u1", rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := stores.Store.Get(ctx, "u1", rec.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	if err := stores.Store.Delete(ctx, "u1", rec.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	err = stores.Store.Update(ctx, rec)
	if !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Update of deleted = %v, want ErrNotFound", err)
	}
}

func TestStore_ListFilters(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seed := []memory.Record{
		{
			ID: "01-fact-high", Owner: "u1", Type: memory.TypeFact,
			Content: "important embedded fact here", Importance: 0.9,
			Embedding: []float32{1, 0},
			CreatedAt: base, UpdatedAt: base,
		},
		{
			ID: "02-fact-low", Owner: "u1", Type: memory.TypeFact,
			Content: "minor fact without embedding", Importance: 0.3,
			CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second),
		},
		{
			ID: "03-pref", Owner: "u1", Type: memory.TypePreference,
			Content: "a preference with embedding", Importance: 0.9,
			Embedding: []float32{0, 1},
			CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(2 * time.Second),
		},
		{
			ID: "04-other-owner", Owner: "u2", Type: memory.TypeFact,
			Content: "belongs to somebody else", Importance: 0.9,
			CreatedAt: base, UpdatedAt: base,
		},
	}
	for _, rec := range seed {
		if err := stores.Store.Create(ctx, rec); err != nil {
			t.Fatalf("Create %s: %v", rec.ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  memory.Filter
		wantIDs []string
	}{
		{name: "no filter", filter: memory.Filter{}, wantIDs: []string{"01-fact-high", "02-fact-low", "03-pref"}},
		{name: "by type", filter: memory.Filter{Type: memory.TypeFact}, wantIDs: []string{"01-fact-high", "02-fact-low"}},
		{name: "min importance", filter: memory.Filter{MinImportance: 0.5}, wantIDs: []string{"01-fact-high", "03-pref"}},
		{name: "require embedding", filter: memory.Filter{RequireEmbedding: true}, wantIDs: []string{"01-fact-high", "03-pref"}},
		{
			name:    "combined",
			filter:  memory.Filter{Type: memory.TypeFact, MinImportance: 0.5, RequireEmbedding: true},
			wantIDs: []string{"01-fact-high"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := stores.Store.ListByOwner(ctx, "u1", tt.filter)
			if err != nil {
				t.Fatalf("ListByOwner: %v", err)
			}
			if len(records) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(records), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if records[i].ID != id {
					t.Errorf("records[%d].ID = %q, want %q", i, records[i].ID, id)
				}
			}
		})
	}

	count, err := stores.Store.CountByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("CountByOwner: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestStore_Touch(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()

	rec := memory.Record{
		ID: memory.NewID(), Owner: "u1", Type: memory.TypeFact,
		Content: "access tracking works correctly", Importance: 0.5,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := stores.Store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := stores.Store.Touch(ctx, "u1", rec.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := stores.Store.Touch(ctx, "u1", rec.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := stores.Store.Get(ctx, "u1", rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", got.AccessCount)
	}
	if got.LastAccessed == nil {
		t.Error("LastAccessed not set")
	}

	if err := stores.Store.Touch(ctx, "u1", "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Touch missing = %v, want ErrNotFound", err)
	}
}

func TestChatStore(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()
	chats := stores.Chats.(*chatStore)

	base := time.Now().UTC().Truncate(time.Millisecond)
	msgs := []memory.ChatMessage{
		{ID: "m1", ChatID: "c1", UserID: "u1", Role: "user", Content: "first message", CreatedAt: base},
		{ID: "m2", ChatID: "c1", UserID: "u1", Role: "assistant", Content: "a reply", CreatedAt: base.Add(time.Second)},
		{ID: "m3", ChatID: "c1", UserID: "u1", Role: "user", Content: "third message", CreatedAt: base.Add(2 * time.Second)},
		{ID: "m4", ChatID: "c2", UserID: "u2", Role: "user", Content: "other chat", CreatedAt: base},
	}
	for _, msg := range msgs {
		if err := chats.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage %s: %v", msg.ID, err)
		}
	}

	all, err := stores.Chats.Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(all) != 3 || all[0].ID != "m1" || all[2].ID != "m3" {
		t.Errorf("Messages = %+v, want m1..m3 chronological", all)
	}

	recent, err := stores.Chats.RecentMessages(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "m2" || recent[1].ID != "m3" {
		t.Errorf("RecentMessages = %+v, want m2, m3 oldest first", recent)
	}

	got, err := stores.Chats.MessageByID(ctx, "m2")
	if err != nil {
		t.Fatalf("MessageByID: %v", err)
	}
	if got.Role != "assistant" || got.Content != "a reply" {
		t.Errorf("MessageByID = %+v", got)
	}

	if _, err := stores.Chats.MessageByID(ctx, "missing"); !errors.Is(err, memory.ErrMessageNotFound) {
		t.Errorf("MessageByID missing = %v, want ErrMessageNotFound", err)
	}
}

func TestUserStore_Preferences(t *testing.T) {
	t.Parallel()

	stores := openTestStores(t)
	ctx := context.Background()
	users := stores.Users.(*userStore)

	// Unknown users default to enabled.
	prefs, err := stores.Users.Preferences(ctx, "newcomer")
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if !prefs.EnableMemory {
		t.Error("unknown user not defaulted to enabled")
	}

	if err := users.SetPreferences(ctx, "u1", memory.Preferences{EnableMemory: false}); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	prefs, err = stores.Users.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if prefs.EnableMemory {
		t.Error("opt-out not persisted")
	}

	if err := users.SetPreferences(ctx, "u1", memory.Preferences{EnableMemory: true}); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	prefs, err = stores.Users.Preferences(ctx, "u1")
	if err != nil {
		t.Fatalf("Preferences: %v", err)
	}
	if !prefs.EnableMemory {
		t.Error("opt-in not persisted")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.db")
	_, db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stores, db, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := stores.Store.ListByOwner(context.Background(), "u1", memory.Filter{}); err != nil {
		t.Fatalf("ListByOwner after reopen: %v", err)
	}
}

func TestEmbeddingCodec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vec  []float32
	}{
		{name: "nil", vec: nil},
		{name: "empty", vec: []float32{}},
		{name: "values", vec: []float32{0, 1, -1, 0.5, -0.25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := decodeEmbedding(encodeEmbedding(tt.vec))
			if len(tt.vec) == 0 {
				if got != nil {
					t.Fatalf("decode = %v, want nil", got)
				}
				return
			}
			if len(got) != len(tt.vec) {
				t.Fatalf("decode length = %d, want %d", len(got), len(tt.vec))
			}
			for i := range tt.vec {
				if got[i] != tt.vec[i] {
					t.Errorf("decode[%d] = %v, want %v", i, got[i], tt.vec[i])
				}
			}
		})
	}
}

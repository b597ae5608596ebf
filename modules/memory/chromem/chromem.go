// Package chromem implements an in-process vector store module backed by
// chromem-go. Records live in memory with their embeddings mirrored into a
// per-owner chromem collection, which serves similarity search directly
// instead of the brute-force scan. State does not survive restarts; use the
// memory.sqlite module where persistence matters.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/engramd/engramd/internal/core"
	"github.com/engramd/engramd/internal/memory"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ memory.Store          = (*Store)(nil)
	_ memory.VectorSearcher = (*Store)(nil)
	_ core.Provisioner      = (*Module)(nil)
	_ core.Validator        = (*Module)(nil)
)

// Module registers a chromem-backed memory store with in-memory chat and
// user stores alongside, so it works as a standalone backend.
type Module struct {
	store  *Store
	chats  *ChatLog
	users  *Users
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "memory.chromem",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger
	m.store = NewStore()
	m.chats = NewChatLog()
	m.users = NewUsers()

	ctx.RegisterService("memory.store", m.store)
	ctx.RegisterService("memory.chats", m.chats)
	ctx.RegisterService("memory.users", m.users)

	m.logger.Info("chromem memory module provisioned")
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.store == nil {
		return fmt.Errorf("chromem: store not provisioned")
	}
	return nil
}

// Store returns the memory.Store implementation.
func (m *Module) Store() memory.Store {
	return m.store
}

// Store keeps records in memory and mirrors embeddings into chromem
// collections, one collection per owner.
type Store struct {
	mu          sync.RWMutex
	byOwner     map[string]map[string]memory.Record
	db          *chromem.DB
	collections map[string]*chromem.Collection
}

// NewStore creates an empty chromem-backed store.
func NewStore() *Store {
	return &Store{
		byOwner:     make(map[string]map[string]memory.Record),
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// collection returns the owner's chromem collection, creating it on first use.
// Callers must hold the write lock.
func (s *Store) collection(owner string) (*chromem.Collection, error) {
	if col, ok := s.collections[owner]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection("owner_"+owner, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}
	s.collections[owner] = col
	return col, nil
}

// Create persists a new record after validating it. Records with embeddings
// are indexed for similarity search immediately.
func (s *Store) Create(ctx context.Context, rec memory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byOwner[rec.Owner] == nil {
		s.byOwner[rec.Owner] = make(map[string]memory.Record)
	}
	s.byOwner[rec.Owner][rec.ID] = cloneRecord(rec)

	return s.index(ctx, rec)
}

// Get returns a record by owner and ID.
func (s *Store) Get(_ context.Context, owner, id string) (memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byOwner[owner][id]
	if !ok {
		return memory.Record{}, memory.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Update replaces an existing record and refreshes its index entry.
func (s *Store) Update(ctx context.Context, rec memory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byOwner[rec.Owner][rec.ID]; !ok {
		return memory.ErrNotFound
	}
	s.byOwner[rec.Owner][rec.ID] = cloneRecord(rec)

	if err := s.unindex(ctx, rec.Owner, rec.ID); err != nil {
		return err
	}
	return s.index(ctx, rec)
}

// Delete removes a record and its index entry.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byOwner[owner][id]; !ok {
		return memory.ErrNotFound
	}
	delete(s.byOwner[owner], id)

	return s.unindex(ctx, owner, id)
}

// ListByOwner returns all of a user's records matching the filter.
func (s *Store) ListByOwner(_ context.Context, owner string, f memory.Filter) ([]memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.Record
	for _, rec := range s.byOwner[owner] {
		if f.Type != "" && rec.Type != f.Type {
			continue
		}
		if rec.Importance < f.MinImportance {
			continue
		}
		if f.RequireEmbedding && len(rec.Embedding) == 0 {
			continue
		}
		out = append(out, cloneRecord(rec))
	}

	slices.SortFunc(out, func(a, b memory.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return out, nil
}

// Touch increments a record's access count and stamps last_accessed.
func (s *Store) Touch(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byOwner[owner][id]
	if !ok {
		return memory.ErrNotFound
	}
	now := time.Now().UTC()
	rec.AccessCount++
	rec.LastAccessed = &now
	s.byOwner[owner][id] = rec
	return nil
}

// CountByOwner returns the number of records stored for a user.
func (s *Store) CountByOwner(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byOwner[owner]), nil
}

// Owners returns all users with at least one stored record, sorted.
// The maintenance sweep iterates this.
func (s *Store) Owners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.byOwner))
	for owner, records := range s.byOwner {
		if len(records) > 0 {
			owners = append(owners, owner)
		}
	}
	slices.Sort(owners)
	return owners, nil
}

// SimilarByVector implements memory.VectorSearcher using the chromem index.
// It returns every embedded record at or above minImportance with its exact
// cosine similarity, matching the brute-force path result for result.
func (s *Store) SimilarByVector(ctx context.Context, owner string, vec []float32, minImportance float64) ([]memory.SimilarityHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[owner]
	if !ok || col.Count() == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, col.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	var hits []memory.SimilarityHit
	for _, res := range results {
		rec, ok := s.byOwner[owner][res.ID]
		if !ok {
			// Index entry for a record deleted mid-flight; skip.
			continue
		}
		if rec.Importance < minImportance {
			continue
		}
		hits = append(hits, memory.SimilarityHit{
			Record:     cloneRecord(rec),
			Similarity: float64(res.Similarity),
		})
	}

	return hits, nil
}

// index adds the record's embedding to the owner's collection.
// Callers must hold the write lock.
func (s *Store) index(ctx context.Context, rec memory.Record) error {
	if len(rec.Embedding) == 0 {
		return nil
	}

	col, err := s.collection(rec.Owner)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  map[string]string{"type": string(rec.Type)},
	})
	if err != nil {
		return fmt.Errorf("chromem: index record: %w", err)
	}
	return nil
}

// unindex drops the record from the owner's collection if present.
// Callers must hold the write lock.
func (s *Store) unindex(ctx context.Context, owner, id string) error {
	col, ok := s.collections[owner]
	if !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem: unindex record: %w", err)
	}
	return nil
}

func cloneRecord(rec memory.Record) memory.Record {
	cp := rec
	cp.Tags = slices.Clone(rec.Tags)
	cp.Embedding = slices.Clone(rec.Embedding)
	if rec.LastAccessed != nil {
		t := *rec.LastAccessed
		cp.LastAccessed = &t
	}
	return cp
}


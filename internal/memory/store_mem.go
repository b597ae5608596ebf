package memory

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe, in-memory implementation of Store.
// Suitable for tests and single-process deployments without persistence;
// production setups use the memory.sqlite or memory.chromem modules.
type InMemoryStore struct {
	mu      sync.RWMutex
	byOwner map[string][]Record
}

// NewInMemoryStore creates a new empty memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byOwner: make(map[string][]Record)}
}

// Compile-time interface check.
var _ Store = (*InMemoryStore)(nil)

// Create persists a new record after validating it.
func (s *InMemoryStore) Create(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOwner[rec.Owner] = append(s.byOwner[rec.Owner], cloneRecord(rec))
	return nil
}

// Get returns a record by owner and ID.
func (s *InMemoryStore) Get(_ context.Context, owner, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.byOwner[owner] {
		if s.byOwner[owner][i].ID == id {
			return cloneRecord(s.byOwner[owner][i]), nil
		}
	}
	return Record{}, ErrNotFound
}

// Update replaces an existing record.
func (s *InMemoryStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.byOwner[rec.Owner]
	for i := range records {
		if records[i].ID == rec.ID {
			records[i] = cloneRecord(rec)
			return nil
		}
	}
	return ErrNotFound
}

// Delete removes a record.
func (s *InMemoryStore) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.byOwner[owner]
	for i := range records {
		if records[i].ID == id {
			s.byOwner[owner] = slices.Delete(records, i, i+1)
			return nil
		}
	}
	return ErrNotFound
}

// ListByOwner returns all of a user's records matching the filter.
func (s *InMemoryStore) ListByOwner(_ context.Context, owner string, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for i := range s.byOwner[owner] {
		rec := &s.byOwner[owner][i]
		if f.Type != "" && rec.Type != f.Type {
			continue
		}
		if rec.Importance < f.MinImportance {
			continue
		}
		if f.RequireEmbedding && len(rec.Embedding) == 0 {
			continue
		}
		out = append(out, cloneRecord(*rec))
	}
	return out, nil
}

// Touch increments a record's access count and stamps last_accessed.
func (s *InMemoryStore) Touch(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.byOwner[owner]
	for i := range records {
		if records[i].ID == id {
			now := time.Now().UTC()
			records[i].AccessCount++
			records[i].LastAccessed = &now
			return nil
		}
	}
	return ErrNotFound
}

// CountByOwner returns the number of records stored for a user.
func (s *InMemoryStore) CountByOwner(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byOwner[owner]), nil
}

// Owners returns all users with at least one stored record, sorted.
// The maintenance sweep iterates this.
func (s *InMemoryStore) Owners(_ context.Context) ([]string, error) {
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

// cloneRecord copies a record including its slices, so callers cannot
// mutate stored state through returned values.
func cloneRecord(rec Record) Record {
	cp := rec
	cp.Tags = slices.Clone(rec.Tags)
	cp.Embedding = slices.Clone(rec.Embedding)
	if rec.LastAccessed != nil {
		t := *rec.LastAccessed
		cp.LastAccessed = &t
	}
	return cp
}

package memory

import "context"

// Filter narrows a ListByOwner query. Zero values mean "no constraint".
type Filter struct {
	// Type restricts results to a single memory type.
	Type Type

	// MinImportance excludes records below the given importance.
	MinImportance float64

	// RequireEmbedding excludes records whose embedding has not been
	// written yet (insert-then-embed leaves a brief window).
	RequireEmbedding bool
}

// Store is the persistence contract for memory records. Similarity scoring
// happens in-process; the store only filters and returns candidates.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create persists a new record. The record must pass Validate.
	Create(ctx context.Context, rec Record) error

	// Get returns a record by owner and ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, owner, id string) (Record, error)

	// Update replaces an existing record. Returns ErrNotFound if missing.
	Update(ctx context.Context, rec Record) error

	// Delete removes a record. Returns ErrNotFound if missing.
	Delete(ctx context.Context, owner, id string) error

	// ListByOwner returns all of a user's records matching the filter.
	ListByOwner(ctx context.Context, owner string, f Filter) ([]Record, error)

	// Touch increments a record's access count and stamps last_accessed.
	// Best-effort observability data; callers may ignore failures.
	Touch(ctx context.Context, owner, id string) error

	// CountByOwner returns the number of records stored for a user.
	CountByOwner(ctx context.Context, owner string) (int, error)
}

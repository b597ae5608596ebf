// Package memory implements the long-term memory engine: LLM-based
// extraction of memory records from conversation text, lexical
// deduplication, similarity-ranked retrieval, consolidation of
// near-duplicates, and capacity-based eviction.
package memory

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type classifies what kind of information a memory record holds.
type Type string

// Memory type constants. The set is fixed; records with any other type
// are rejected at creation.
const (
	TypeFact       Type = "fact"
	TypePreference Type = "preference"
	TypeSkill      Type = "skill"
	TypeGoal       Type = "goal"
	TypeContext    Type = "context"
)

// Types lists all valid memory types in presentation order.
func Types() []Type {
	return []Type{TypeFact, TypePreference, TypeSkill, TypeGoal, TypeContext}
}

// Valid reports whether t is one of the fixed memory types.
func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypePreference, TypeSkill, TypeGoal, TypeContext:
		return true
	}
	return false
}

// SourceKind identifies what produced a memory record.
type SourceKind string

// SourceKind constants.
const (
	SourceMessage       SourceKind = "message"
	SourceConsolidation SourceKind = "consolidation"
)

// SourceRef points back to the origin of a memory record.
type SourceRef struct {
	ChatID    string     `json:"chat_id,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Kind      SourceKind `json:"kind"`
}

// MinContentLength is the exclusive lower bound on record content length.
const MinContentLength = 10

// MinStoredImportance is the floor below which extraction candidates are
// discarded instead of stored.
const MinStoredImportance = 0.3

// Record is a stored memory: a durable statement about a user with an
// importance score and an embedding for similarity search.
type Record struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Content    string     `json:"content"`
	Type       Type       `json:"type"`
	Importance float64    `json:"importance"`
	Tags       []string   `json:"tags,omitempty"`
	Embedding  []float32  `json:"-"`
	Source     SourceRef  `json:"source"`

	AccessCount  int        `json:"access_count"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Validate checks the record invariants enforced at creation time.
func (r *Record) Validate() error {
	if r.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	}
	if len(r.Content) <= MinContentLength {
		return fmt.Errorf("%w: content length must exceed %d characters", ErrInvalidRecord, MinContentLength)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, r.Type)
	}
	if r.Importance < 0 || r.Importance > 1 {
		return fmt.Errorf("%w: importance %v out of range [0, 1]", ErrInvalidRecord, r.Importance)
	}
	return nil
}

// NewID returns a new lexicographically sortable record ID.
func NewID() string {
	return ulid.Make().String()
}

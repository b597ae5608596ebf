package memory

import (
	"context"
	"testing"
	"time"
)

func TestCleanup_FloorAndCap(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		ID: "trivial", Owner: "u1", Type: TypeContext,
		Content: "mentioned the bus was late once", Importance: 0.1,
	})
	seedRecord(t, store, Record{
		ID: "useful", Owner: "u1", Type: TypeSkill,
		Content: "comfortable with sql and migrations", Importance: 0.5,
	})
	seedRecord(t, store, Record{
		ID: "vital", Owner: "u1", Type: TypeFact,
		Content: "works as a veterinarian in oslo", Importance: 0.9,
	})

	c := NewCleaner(store, nil, nil)
	result, err := c.Cleanup(context.Background(), "u1", 2, 0.2)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if result.BelowFloor != 1 || result.OverCap != 0 {
		t.Errorf("result = %+v, want BelowFloor=1 OverCap=0", result)
	}
	if _, err := store.Get(context.Background(), "u1", "trivial"); err == nil {
		t.Error("below-floor record survived")
	}
	for _, id := range []string{"useful", "vital"} {
		if _, err := store.Get(context.Background(), "u1", id); err != nil {
			t.Errorf("record %s evicted, should survive: %v", id, err)
		}
	}

	// A second pass with no intervening writes deletes nothing.
	again, err := c.Cleanup(context.Background(), "u1", 2, 0.2)
	if err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
	if again.Deleted() != 0 {
		t.Errorf("second pass deleted %d, want 0", again.Deleted())
	}
}

func TestCleanup_ImportanceOverridesRecency(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		ID: "old-but-vital", Owner: "u1", Type: TypeFact,
		Content:    "allergic to penicillin since childhood",
		Importance: 0.9,
		CreatedAt:  now.AddDate(-1, 0, 0),
		UpdatedAt:  now.AddDate(-1, 0, 0),
	})
	seedRecord(t, store, Record{
		ID: "fresh-but-minor", Owner: "u1", Type: TypeContext,
		Content:    "currently reading a mystery novel",
		Importance: 0.4,
		CreatedAt:  now,
		UpdatedAt:  now,
	})

	c := NewCleaner(store, nil, nil)
	result, err := c.Cleanup(context.Background(), "u1", 1, 0.2)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if result.OverCap != 1 {
		t.Fatalf("result = %+v, want OverCap=1", result)
	}
	if _, err := store.Get(context.Background(), "u1", "fresh-but-minor"); err == nil {
		t.Error("less important record survived over more important one")
	}
	if _, err := store.Get(context.Background(), "u1", "old-but-vital"); err != nil {
		t.Errorf("more important record evicted: %v", err)
	}
}

func TestCleanup_OverCapEvictsOldestAtEqualImportance(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		ID: "older", Owner: "u1", Type: TypeFact,
		Content: "equally important older statement", Importance: 0.5,
		CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
	})
	seedRecord(t, store, Record{
		ID: "newer", Owner: "u1", Type: TypeFact,
		Content: "equally important newer statement", Importance: 0.5,
		CreatedAt: now, UpdatedAt: now,
	})

	c := NewCleaner(store, nil, nil)
	if _, err := c.Cleanup(context.Background(), "u1", 1, 0.2); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if _, err := store.Get(context.Background(), "u1", "older"); err == nil {
		t.Error("older record survived the tie-break")
	}
	if _, err := store.Get(context.Background(), "u1", "newer"); err != nil {
		t.Errorf("newer record evicted: %v", err)
	}
}

func TestCleanup_UnderLimitsIsNoop(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		Owner: "u1", Type: TypeFact,
		Content: "well above the importance floor", Importance: 0.8,
	})

	c := NewCleaner(store, nil, nil)
	result, err := c.Cleanup(context.Background(), "u1", 10, 0.2)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.Deleted() != 0 {
		t.Errorf("deleted %d, want 0", result.Deleted())
	}

	count, err := store.CountByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CountByOwner: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestCleanup_ZeroLimitsUseDefaults(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	seedRecord(t, store, Record{
		ID: "under-default-floor", Owner: "u1", Type: TypeContext,
		Content: "below the default importance floor", Importance: 0.1,
	})

	c := NewCleaner(store, nil, nil)
	result, err := c.Cleanup(context.Background(), "u1", 0, 0)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if result.BelowFloor != 1 {
		t.Errorf("result = %+v, want BelowFloor=1 under default floor %v", result, DefaultMinImportance)
	}
}

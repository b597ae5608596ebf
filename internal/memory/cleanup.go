package memory

import (
	"context"
	"log/slog"
	"slices"
)

// Cleanup defaults.
const (
	DefaultMaxMemories   = 1000
	DefaultMinImportance = 0.2
)

// CleanupResult reports what an eviction pass removed.
type CleanupResult struct {
	// BelowFloor counts deletions from phase 1 (importance under the floor).
	BelowFloor int `json:"below_floor"`

	// OverCap counts deletions from phase 2 (excess over the capacity cap).
	OverCap int `json:"over_cap"`
}

// Deleted returns the total number of evicted memories.
func (r CleanupResult) Deleted() int {
	return r.BelowFloor + r.OverCap
}

// Cleaner enforces the per-user capacity cap and importance floor.
type Cleaner struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// NewCleaner creates a cleaner. A nil logger discards log output.
func NewCleaner(store Store, logger *slog.Logger, metrics *Metrics) *Cleaner {
	if logger == nil {
		logger = slog.New(nopHandler{})
	}
	return &Cleaner{store: store, logger: logger, metrics: metrics}
}

// Cleanup evicts low-value memories for one user. Phase 1 deletes every
// memory below the importance floor regardless of count. Phase 2 deletes the
// least-important, oldest excess above the capacity cap. Importance
// intentionally overrides recency: a low-importance recent memory is evicted
// before an older, more important one.
//
// Running the pass twice with no intervening writes deletes nothing the
// second time.
func (c *Cleaner) Cleanup(ctx context.Context, owner string, maxMemories int, minImportance float64) (CleanupResult, error) {
	if maxMemories <= 0 {
		maxMemories = DefaultMaxMemories
	}
	if minImportance <= 0 {
		minImportance = DefaultMinImportance
	}

	records, err := c.store.ListByOwner(ctx, owner, Filter{})
	if err != nil {
		return CleanupResult{}, err
	}

	// Ascending by importance, then by age: index 0 is the first to go.
	slices.SortFunc(records, func(a, b Record) int {
		switch {
		case a.Importance < b.Importance:
			return -1
		case a.Importance > b.Importance:
			return 1
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var result CleanupResult
	remaining := len(records)

	// belowFloor is the count of phase-1 candidates, independent of whether
	// their deletes succeed, so phase 2 starts past them either way.
	belowFloor := 0
	for i := range records {
		if records[i].Importance >= minImportance {
			break
		}
		belowFloor++
		if err := c.store.Delete(ctx, owner, records[i].ID); err != nil {
			c.logger.Warn("eviction delete failed", "owner", owner, "id", records[i].ID, "error", err)
			continue
		}
		result.BelowFloor++
		remaining--
	}

	if remaining > maxMemories {
		excess := remaining - maxMemories
		for i := belowFloor; i < len(records) && excess > 0; i++ {
			if err := c.store.Delete(ctx, owner, records[i].ID); err != nil {
				c.logger.Warn("eviction delete failed", "owner", owner, "id", records[i].ID, "error", err)
				continue
			}
			result.OverCap++
			excess--
		}
	}

	if result.Deleted() > 0 {
		c.logger.Info("cleanup pass completed",
			"owner", owner,
			"below_floor", result.BelowFloor,
			"over_cap", result.OverCap,
		)
	}

	c.metrics.evictions(result)

	return result, nil
}

package cron

import (
	"context"
	"log/slog"

	"github.com/engramd/engramd/internal/memory"
)

// Maintainer is the subset of the memory engine the maintenance sweep
// drives. Defined here so tests can stand in a double.
type Maintainer interface {
	Consolidate(ctx context.Context, owner string, typeFilter memory.Type) ([]memory.MergeResult, error)
	Cleanup(ctx context.Context, owner string) (memory.CleanupResult, error)
}

// OwnerSource enumerates users who have stored memories. The store
// backends implement it.
type OwnerSource interface {
	Owners(ctx context.Context) ([]string, error)
}

// MaintenanceJob runs the per-user maintenance sweep: consolidation first,
// so merged records are in place before eviction considers counts, then
// cleanup. It is also the corrective pass for interrupted consolidations,
// since merges are not transactional.
type MaintenanceJob struct {
	// Resolve returns the engine and owner source when they are available.
	// Resolution is lazy: the engine assembles after the scheduler starts.
	Resolve func() (Maintainer, OwnerSource, bool)

	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"
}

// Compile-time interface check.
var _ Job = (*MaintenanceJob)(nil)

// Name implements Job.
func (j *MaintenanceJob) Name() string { return "memory_maintenance" }

// Schedule implements Job.
func (j *MaintenanceJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run sweeps every owner. Per-user failures are logged and isolated; one
// user's broken state must not starve the rest of the sweep.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	maintainer, source, ok := j.Resolve()
	if !ok {
		j.Logger.Warn("cron: engine not ready, skipping maintenance sweep")
		return nil
	}

	owners, err := source.Owners(ctx)
	if err != nil {
		return err
	}

	var merges, evicted int
	for _, owner := range owners {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := maintainer.Consolidate(ctx, owner, "")
		if err != nil {
			j.Logger.Warn("cron: consolidation failed", "owner", owner, "error", err)
		} else {
			merges += len(results)
		}

		cleaned, err := maintainer.Cleanup(ctx, owner)
		if err != nil {
			j.Logger.Warn("cron: cleanup failed", "owner", owner, "error", err)
			continue
		}
		evicted += cleaned.Deleted()
	}

	j.Logger.Info("cron: maintenance sweep complete",
		"owners", len(owners),
		"merges", merges,
		"evicted", evicted,
	)
	return nil
}

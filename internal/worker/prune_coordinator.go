package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/tempo/internal/store"
)

// PruneCoordinator deletes client view snapshots past the retention window.
// A correct client never re-reads a superseded view; a stale cookie simply
// triggers a full resync.
type PruneCoordinator struct {
	store    *store.Store
	interval time.Duration
	maxAge   time.Duration
}

func NewPruneCoordinator(st *store.Store, interval, maxAge time.Duration) *PruneCoordinator {
	return &PruneCoordinator{store: st, interval: interval, maxAge: maxAge}
}

// Run starts the coordinator loop.
func (c *PruneCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "prune-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "prune-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.prune(ctx)
		}
	}
}

func (c *PruneCoordinator) prune(ctx context.Context) {
	cutoff := time.Now().Add(-c.maxAge)
	deleted, err := c.store.DeleteClientViewsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("client view pruning failed",
			"component", "worker",
			"worker", "prune-coordinator",
			"action", "prune_failed",
			"error", err,
		)
		return
	}
	if deleted > 0 {
		slog.Info("client views pruned",
			"component", "worker",
			"worker", "prune-coordinator",
			"action", "prune_complete",
			"deleted", deleted,
		)
	}
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/tempo/internal/store"
)

// StatusRefreshJob is the job name for one user's status regeneration.
// Pushes and the coordinator both schedule it; the queue deduplicates.
const StatusRefreshJob = "status.refresh"

// StatusCoordinator periodically schedules a status refresh for every user.
// Users with status disabled are filtered out by the refresher itself.
type StatusCoordinator struct {
	store    *store.Store
	queue    *Queue
	interval time.Duration
}

func NewStatusCoordinator(st *store.Store, queue *Queue, interval time.Duration) *StatusCoordinator {
	return &StatusCoordinator{store: st, queue: queue, interval: interval}
}

// Run starts the coordinator loop.
func (c *StatusCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "status-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.scheduleAll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "status-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.scheduleAll(ctx)
		}
	}
}

func (c *StatusCoordinator) scheduleAll(ctx context.Context) {
	userIDs, err := c.store.ListUserIDs(ctx)
	if err != nil {
		slog.Error("failed to list users for status refresh",
			"component", "worker",
			"worker", "status-coordinator",
			"action", "list_users_failed",
			"error", err,
		)
		return
	}
	for _, userID := range userIDs {
		c.queue.Schedule(StatusRefreshJob, userID)
	}
}

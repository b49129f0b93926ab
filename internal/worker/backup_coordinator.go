package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperengineering/tempo/internal/snapshot"
	"github.com/hyperengineering/tempo/internal/store"
)

// BackupCoordinator periodically writes a consistent copy of the database
// and hands it to the uploader.
type BackupCoordinator struct {
	store    *store.Store
	uploader snapshot.Uploader
	interval time.Duration
}

func NewBackupCoordinator(st *store.Store, uploader snapshot.Uploader, interval time.Duration) *BackupCoordinator {
	return &BackupCoordinator{store: st, uploader: uploader, interval: interval}
}

// Run starts the coordinator loop.
func (c *BackupCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "worker_started",
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.backup(ctx)
		}
	}
}

func (c *BackupCoordinator) backup(ctx context.Context) {
	start := time.Now()

	// VACUUM INTO refuses to overwrite, so stage into a fresh temp dir.
	dir, err := os.MkdirTemp("", "tempo-backup-*")
	if err != nil {
		slog.Error("backup staging failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_failed",
			"error", err,
		)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "tempo.db")
	if err := c.store.BackupTo(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("backup failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "backup_failed",
			"error", err,
		)
		return
	}

	if err := c.uploader.Upload(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("backup upload failed",
			"component", "worker",
			"worker", "backup-coordinator",
			"action", "upload_failed",
			"error", err,
		)
		return
	}

	slog.Info("backup complete",
		"component", "worker",
		"worker", "backup-coordinator",
		"action", "backup_complete",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/tempo/internal/api"
	"github.com/hyperengineering/tempo/internal/config"
	"github.com/hyperengineering/tempo/internal/pull"
	"github.com/hyperengineering/tempo/internal/push"
	"github.com/hyperengineering/tempo/internal/session"
	"github.com/hyperengineering/tempo/internal/snapshot"
	"github.com/hyperengineering/tempo/internal/status"
	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tempo",
	Short: "Tempo - time stream sync server",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Materialise configured user accounts
	if err := ensureUsers(ctx, db, cfg.Auth.Users); err != nil {
		return err
	}

	// 6. Sync machinery
	sessions := session.NewRegistry()
	jobs := worker.NewQueue(cfg.Worker.JobQueueSize)
	puller := pull.New(db, logger)
	pusher := push.New(db, jobs, sessions, logger)

	// 7. Status generation (worker-driven, skipped without an API key)
	if cfg.Status.OpenAIAPIKey != "" {
		generator := status.NewOpenAI(cfg.Status.OpenAIAPIKey, cfg.Status.Model)
		refresher := status.NewRefresher(db, generator, status.NewSlackClient(),
			time.Duration(cfg.Status.Lookback), time.Duration(cfg.Status.TTL), logger)
		jobs.Handle(worker.StatusRefreshJob, func(ctx context.Context, userID string) error {
			return worker.Track(ctx, db, userID, "update-user-status", func(ctx context.Context) error {
				return refresher.Refresh(ctx, userID)
			})
		})
		slog.Info("status generator initialized", "model", cfg.Status.Model)
	} else {
		jobs.Handle(worker.StatusRefreshJob, func(ctx context.Context, userID string) error {
			return nil
		})
		slog.Info("status generator disabled: OPENAI_API_KEY not set")
	}

	// 8. Backup uploader
	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}

	// 9. Initialize HTTP router
	handler := api.NewHandler(db, puller, pusher, sessions, Version)
	router := api.NewRouter(handler, cfg.Auth.Tokens())
	slog.Info("router initialized")

	// 10. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 11. Start workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "job-queue", jobs.Run)
	startWorker(ctx, &wg, "status-coordinator",
		worker.NewStatusCoordinator(db, jobs, time.Duration(cfg.Worker.StatusInterval)).Run)
	startWorker(ctx, &wg, "prune-coordinator",
		worker.NewPruneCoordinator(db, time.Duration(cfg.Worker.PruneInterval), time.Duration(cfg.Worker.ClientViewMaxAge)).Run)
	startWorker(ctx, &wg, "backup-coordinator",
		worker.NewBackupCoordinator(db, uploader, time.Duration(cfg.Worker.BackupInterval)).Run)

	// 12. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 13. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 14. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 14a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 14b. Drop live poke sessions so streaming handlers return
	sessions.DisposeAll()

	// 14c. Wait for workers to complete
	wg.Wait()

	// 14d. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// ensureUsers creates a user row for each configured account that does not
// exist yet.
func ensureUsers(ctx context.Context, db *store.Store, users []config.AuthUser) error {
	for _, u := range users {
		_, err := db.GetUser(ctx, db.DB(), u.UserID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		timeZone := u.TimeZone
		if timeZone == "" {
			timeZone = "UTC"
		}
		if err := db.InsertUser(ctx, db.DB(), store.User{
			ID:       u.UserID,
			Email:    u.Email,
			TimeZone: timeZone,
		}); err != nil {
			return err
		}
		slog.Info("user created", "user_id", u.UserID)
	}
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

// Package worker hosts the background loops: the deduplicating job queue
// fed by mutations, plus the periodic coordinators for status refresh,
// client-view pruning, and database backup.
package worker

import (
	"context"
	"log/slog"
	stdsync "sync"
)

// Job is one unit of deferred work, deduplicated on (Name, Key).
type Job struct {
	Name string
	Key  string
}

// Handler runs one job. Key carries the job's dedup key (typically a user id).
type Handler func(ctx context.Context, key string) error

// Queue is a deduplicating job queue. Scheduling a job that is already
// pending is a no-op; a job becomes schedulable again once a worker picks it
// up. Satisfies the mutator's JobScheduler boundary.
type Queue struct {
	mu       stdsync.Mutex
	pending  map[Job]struct{}
	jobs     chan Job
	handlers map[string]Handler
}

func NewQueue(size int) *Queue {
	return &Queue{
		pending:  make(map[Job]struct{}),
		jobs:     make(chan Job, size),
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a job name. Not safe to call after Run.
func (q *Queue) Handle(name string, h Handler) {
	q.handlers[name] = h
}

// Schedule enqueues a job unless an identical one is already pending.
// Never blocks; a full queue drops the job with a warning.
func (q *Queue) Schedule(name, key string) {
	job := Job{Name: name, Key: key}

	q.mu.Lock()
	if _, dup := q.pending[job]; dup {
		q.mu.Unlock()
		return
	}
	q.pending[job] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
	default:
		q.mu.Lock()
		delete(q.pending, job)
		q.mu.Unlock()
		slog.Warn("job queue full, dropping job",
			"component", "worker",
			"job", name,
			"key", key,
		)
	}
}

// Run consumes jobs until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "job-queue",
		"action", "worker_started",
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "job-queue",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case job := <-q.jobs:
			q.mu.Lock()
			delete(q.pending, job)
			q.mu.Unlock()

			handler, ok := q.handlers[job.Name]
			if !ok {
				slog.Error("no handler for job",
					"component", "worker",
					"job", job.Name,
				)
				continue
			}
			if err := handler(ctx, job.Key); err != nil && ctx.Err() == nil {
				slog.Error("job failed",
					"component", "worker",
					"job", job.Name,
					"key", job.Key,
					"error", err,
				)
			}
		}
	}
}

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/folioworks/folio/internal/queue"
	"github.com/folioworks/folio/internal/store"
)

const (
	dequeueTimeout  = 5 * time.Second
	reclaimInterval = time.Minute
)

// jobQueue is the queue surface the worker drives.
type jobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	StartRenewal(ctx context.Context, jobID string, interval time.Duration) func()
	Reclaim(ctx context.Context) ([]string, error)
}

// jobRunner executes one claimed job to completion.
type jobRunner interface {
	Execute(ctx context.Context, jobID string) error
}

// Worker pulls jobs off the durable queue and executes them one at a
// time. Claiming only what it can run keeps queued jobs visible to
// other workers instead of parked behind this one. Lock renewal runs
// for the whole execution so a live worker never loses its claim; a
// periodic reclaim sweep requeues jobs whose worker died.
type Worker struct {
	runner  jobRunner
	queue   jobQueue
	store   *store.Store
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewWorker creates a queue worker.
func NewWorker(runner *Runner, q *queue.RedisQueue, st *store.Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner:  runner,
		queue:   q,
		store:   st,
		lockTTL: runner.deps.Cfg.JobLockDuration,
		logger:  logger,
	}
}

// Run blocks until the context is cancelled, processing jobs as they
// arrive. A job is dequeued only once the previous one finished; for
// more parallelism, run more workers.
func (w *Worker) Run(ctx context.Context) error {
	go w.reclaimLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		jobID, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		w.process(ctx, jobID)
	}
}

func (w *Worker) process(ctx context.Context, jobID string) {
	stopRenewal := w.queue.StartRenewal(ctx, jobID, renewalInterval(w.lockTTL))
	defer stopRenewal()

	if err := w.runner.Execute(ctx, jobID); err != nil {
		w.logger.Error("job execution failed", "job_id", jobID, "error", err)
	}

	// Ack regardless of outcome: failures are recorded on the job
	// record, not retried blindly.
	if err := w.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
		w.logger.Error("failed to ack job", "job_id", jobID, "error", err)
	}
}

// reclaimLoop periodically requeues jobs whose execution lock expired
// and resets their records so a fresh worker can pick them up.
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reclaimed, err := w.queue.Reclaim(ctx)
		if err != nil {
			w.logger.Error("reclaim sweep failed", "error", err)
			continue
		}
		for _, jobID := range reclaimed {
			w.logger.Warn("reclaimed stalled job", "job_id", jobID)
			if err := w.store.TransitionJob(ctx, jobID, store.StatusGenerating, store.StatusQueued); err != nil {
				w.logger.Error("failed to requeue stalled job record", "job_id", jobID, "error", err)
			}
		}
	}
}

// renewalInterval renews well before the lock TTL elapses.
func renewalInterval(lockTTL time.Duration) time.Duration {
	if lockTTL <= 0 {
		return time.Minute
	}
	interval := lockTTL / 3
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

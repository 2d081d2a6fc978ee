package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey = "folio:jobs:pending" // list of job IDs, oldest at tail
	lockPrefix = "folio:jobs:lock:"   // per-job execution lock
	activeKey  = "folio:jobs:active"  // set of job IDs currently held
)

// ErrAlreadyQueued is returned when a job is enqueued twice.
var ErrAlreadyQueued = errors.New("job already queued")

// RedisQueue is a durable FIFO job queue. Each dequeued job is guarded
// by a lock that the worker renews while executing; jobs whose lock
// expired are considered stalled and requeued by Reclaim.
type RedisQueue struct {
	rdb      *redis.Client
	logger   *slog.Logger
	workerID string
	lockTTL  time.Duration
}

// RedisQueueConfig holds configuration for the queue.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
	Logger   *slog.Logger
}

// NewRedisQueue connects to Redis and returns a queue handle.
func NewRedisQueue(cfg RedisQueueConfig) *RedisQueue {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 45 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisQueue{
		rdb:      rdb,
		logger:   logger,
		workerID: uuid.NewString(),
		lockTTL:  cfg.LockTTL,
	}
}

// Ping verifies connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

// Enqueue adds a job ID to the pending queue exactly once. A job that
// is already pending or actively held is rejected.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	held, err := q.rdb.SIsMember(ctx, activeKey, jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to check active set: %w", err)
	}
	if held {
		return fmt.Errorf("job %s: %w", jobID, ErrAlreadyQueued)
	}

	pos, err := q.rdb.LPos(ctx, pendingKey, jobID, redis.LPosArgs{}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to check pending list: %w", err)
	}
	if err == nil && pos >= 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrAlreadyQueued)
	}

	if err := q.rdb.LPush(ctx, pendingKey, jobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	q.logger.Info("job enqueued", "job_id", jobID)
	return nil
}

// Dequeue blocks up to timeout for the next pending job and locks it
// for this worker. Returns "" when the timeout elapses with no work.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, pendingKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue: %w", err)
	}
	jobID := res[1]

	ok, err := q.rdb.SetNX(ctx, lockPrefix+jobID, q.workerID, q.lockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to lock job %s: %w", jobID, err)
	}
	if !ok {
		// Another worker still holds it (stalled requeue race).
		q.logger.Warn("job already locked, skipping", "job_id", jobID)
		return "", nil
	}
	if err := q.rdb.SAdd(ctx, activeKey, jobID).Err(); err != nil {
		return "", fmt.Errorf("failed to mark job active: %w", err)
	}
	return jobID, nil
}

// RenewLock extends the execution lock. Called periodically while the
// job runs so a live worker never loses its claim.
func (q *RedisQueue) RenewLock(ctx context.Context, jobID string) error {
	owner, err := q.rdb.Get(ctx, lockPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock for job %s expired", jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to read lock: %w", err)
	}
	if owner != q.workerID {
		return fmt.Errorf("lock for job %s held by another worker", jobID)
	}
	if err := q.rdb.Expire(ctx, lockPrefix+jobID, q.lockTTL).Err(); err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	return nil
}

// StartRenewal renews the lock on an interval until the returned stop
// function is called or the context ends.
func (q *RedisQueue) StartRenewal(ctx context.Context, jobID string, interval time.Duration) (stop func()) {
	renewCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := q.RenewLock(renewCtx, jobID); err != nil {
					q.logger.Error("lock renewal failed", "job_id", jobID, "error", err)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Ack releases a finished job: drops the lock and the active marker.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	if err := q.rdb.Del(ctx, lockPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if err := q.rdb.SRem(ctx, activeKey, jobID).Err(); err != nil {
		return fmt.Errorf("failed to clear active marker: %w", err)
	}
	return nil
}

// Reclaim scans for stalled jobs (active but lock expired, meaning
// the owning worker died) and pushes them back onto the pending queue.
// Returns the requeued job IDs.
func (q *RedisQueue) Reclaim(ctx context.Context) ([]string, error) {
	active, err := q.rdb.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active set: %w", err)
	}

	var reclaimed []string
	for _, jobID := range active {
		exists, err := q.rdb.Exists(ctx, lockPrefix+jobID).Result()
		if err != nil {
			return reclaimed, fmt.Errorf("failed to check lock: %w", err)
		}
		if exists > 0 {
			continue
		}
		if err := q.rdb.SRem(ctx, activeKey, jobID).Err(); err != nil {
			return reclaimed, fmt.Errorf("failed to clear stalled marker: %w", err)
		}
		if err := q.rdb.LPush(ctx, pendingKey, jobID).Err(); err != nil {
			return reclaimed, fmt.Errorf("failed to requeue stalled job: %w", err)
		}
		q.logger.Warn("requeued stalled job", "job_id", jobID)
		reclaimed = append(reclaimed, jobID)
	}
	return reclaimed, nil
}

// PendingCount returns the number of jobs waiting in the queue.
func (q *RedisQueue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Package jobs implements the Job Runner (C9): a Redis-backed durable
// queue plus a bounded worker pool, grounded on the teacher's own use of
// redis/go-redis/v9 for caching (internal/cache/redis_client.go) and on
// a Celery-style task queue's semantics (named queues, late-ack with
// reject-on-worker-lost, exponential backoff with jitter). No job-queue
// library exists anywhere in the pack's go.mod, so the queue primitives
// themselves are hand-built atop redis/go-redis/v9 rather than imported
// — see DESIGN.md for why this one ambient concern has no ready-made
// dependency to reach for.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when no job was available within the
// poll timeout — not a failure, just nothing to do yet.
var ErrEmpty = errors.New("jobs: queue empty")

// Queue is a durable, late-acknowledged job queue on top of a single
// Redis instance. Each named queue (default/analysis/analysis.priority)
// gets its own list, processing list, claim hash, and delayed set.
type Queue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewQueue wraps an already-connected *redis.Client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, logger: slog.Default().With("component", "jobs.queue")}
}

func readyKey(queue string) string     { return fmt.Sprintf("jobs:%s:ready", queue) }
func processingKey(queue string) string { return fmt.Sprintf("jobs:%s:processing", queue) }
func claimsKey(queue string) string    { return fmt.Sprintf("jobs:%s:claims", queue) }
func delayedKey(queue string) string   { return fmt.Sprintf("jobs:%s:delayed", queue) }

// Enqueue appends a new job envelope to kind's queue, per the job
// table (Specs[kind]).
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (*Envelope, error) {
	spec, ok := Specs[kind]
	if !ok {
		return nil, fmt.Errorf("jobs: unknown kind %q", kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	env := &Envelope{
		ID:         uuid.NewString(),
		Kind:       kind,
		Queue:      spec.Queue,
		Payload:    body,
		Attempt:    0,
		MaxRetries: spec.MaxRetries,
		EnqueuedAt: time.Now(),
	}

	if err := q.push(ctx, env); err != nil {
		return nil, err
	}

	q.logger.Info("job enqueued", "job_id", env.ID, "kind", kind, "queue", env.Queue)
	return env, nil
}

func (q *Queue) push(ctx context.Context, env *Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.rdb.LPush(ctx, readyKey(env.Queue), raw).Err(); err != nil {
		return fmt.Errorf("push to queue %s: %w", env.Queue, err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job on queueName, atomically moving
// it from the ready list to the processing list (late-ack: the job stays
// in processing until Ack removes it, so a worker crash leaves it
// recoverable by ReapStuck). Returns ErrEmpty on timeout.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Envelope, error) {
	res, err := q.rdb.BRPopLPush(ctx, readyKey(queueName), processingKey(queueName), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", queueName, err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(res), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	if err := q.rdb.HSet(ctx, claimsKey(queueName), env.ID, time.Now().Unix()).Err(); err != nil {
		q.logger.Warn("failed to record claim time", "job_id", env.ID, "error", err)
	}

	return &env, nil
}

// Ack removes a successfully processed job from the processing list.
func (q *Queue) Ack(ctx context.Context, env *Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := q.rdb.LRem(ctx, processingKey(env.Queue), 1, raw).Err(); err != nil {
		return fmt.Errorf("ack remove from processing: %w", err)
	}
	q.rdb.HDel(ctx, claimsKey(env.Queue), env.ID)
	return nil
}

// Nack records a failed attempt. If env has exhausted MaxRetries, Nack
// removes it from processing and returns exhausted=true so the caller
// can hand it to the dead letter queue; otherwise it schedules a
// backoff-with-jitter retry and returns exhausted=false.
func (q *Queue) Nack(ctx context.Context, env *Envelope) (exhausted bool, err error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.rdb.LRem(ctx, processingKey(env.Queue), 1, raw).Err(); err != nil {
		return false, fmt.Errorf("nack remove from processing: %w", err)
	}
	q.rdb.HDel(ctx, claimsKey(env.Queue), env.ID)

	env.Attempt++
	if env.Attempt > env.MaxRetries {
		return true, nil
	}

	delay := nextRetryDelay(env.Attempt)
	retryRaw, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("marshal envelope: %w", err)
	}

	readyAt := float64(time.Now().Add(delay).Unix())
	if err := q.rdb.ZAdd(ctx, delayedKey(env.Queue), redis.Z{Score: readyAt, Member: retryRaw}).Err(); err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}

	q.logger.Warn("job scheduled for retry", "job_id", env.ID, "attempt", env.Attempt, "delay", delay)
	return false, nil
}

// PromoteDelayed moves any jobs on queueName whose backoff has elapsed
// back onto the ready list. Intended to be polled periodically by the
// worker pool's reaper loop.
func (q *Queue) PromoteDelayed(ctx context.Context, queueName string) (int, error) {
	now := float64(time.Now().Unix())
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}

	promoted := 0
	for _, m := range members {
		if err := q.rdb.ZRem(ctx, delayedKey(queueName), m).Err(); err != nil {
			continue
		}
		if err := q.rdb.LPush(ctx, readyKey(queueName), m).Err(); err != nil {
			q.logger.Error("failed to promote delayed job", "error", err)
			continue
		}
		promoted++
	}

	return promoted, nil
}

// ReapStuck requeues jobs on queueName's processing list whose claim is
// older than staleAfter, modeling celery's task_reject_on_worker_lost —
// a worker that died mid-job never acks, so its job comes back.
func (q *Queue) ReapStuck(ctx context.Context, queueName string, staleAfter time.Duration) (int, error) {
	raws, err := q.rdb.LRange(ctx, processingKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}

	claims, err := q.rdb.HGetAll(ctx, claimsKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("list claims: %w", err)
	}

	reaped := 0
	cutoff := time.Now().Add(-staleAfter).Unix()
	for _, raw := range raws {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}

		claimedAtStr, ok := claims[env.ID]
		if !ok {
			continue
		}
		var claimedAt int64
		fmt.Sscanf(claimedAtStr, "%d", &claimedAt)
		if claimedAt > cutoff {
			continue
		}

		if err := q.rdb.LRem(ctx, processingKey(queueName), 1, raw).Err(); err != nil {
			continue
		}
		q.rdb.HDel(ctx, claimsKey(queueName), env.ID)

		if err := q.push(ctx, &env); err != nil {
			q.logger.Error("failed to requeue stuck job", "job_id", env.ID, "error", err)
			continue
		}

		q.logger.Warn("requeued stuck job after worker loss", "job_id", env.ID, "queue", queueName)
		reaped++
	}

	return reaped, nil
}

// Depth returns the number of jobs currently waiting on queueName.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := q.rdb.LLen(ctx, readyKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

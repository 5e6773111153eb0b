package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/archgraph/sentinel/internal/dlq"
)

// Handler processes one job's payload. An error triggers a retry
// (or dead-lettering once MaxRetries is exhausted).
type Handler func(ctx context.Context, payload json.RawMessage) error

// Pool is a bounded worker pool that drains one or more named queues,
// dispatching each job kind to its registered Handler. Concurrency is
// capped with golang.org/x/sync/semaphore, matching the teacher's
// existing golang.org/x/sync dependency rather than hand-rolled
// channels-and-counters.
type Pool struct {
	queue       *Queue
	dlq         *dlq.Queue
	handlers    map[string]Handler
	concurrency int
	logger      *slog.Logger
	limiters    map[string]*rate.Limiter
}

// NewPool builds a worker pool with the given per-queue concurrency,
// defaulting to 2 when unset.
func NewPool(queue *Queue, deadLetter *dlq.Queue, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 2
	}

	limiters := make(map[string]*rate.Limiter, len(Specs))
	for kind, spec := range Specs {
		if spec.PerMinute > 0 {
			limiters[kind] = rate.NewLimiter(rate.Limit(float64(spec.PerMinute)/60.0), spec.PerMinute)
		}
	}

	return &Pool{
		queue:       queue,
		dlq:         deadLetter,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		logger:      slog.Default().With("component", "jobs.worker"),
		limiters:    limiters,
	}
}

// RegisterHandler binds kind to h. Run will reject a dequeued job of an
// unregistered kind by dead-lettering it immediately.
func (p *Pool) RegisterHandler(kind string, h Handler) {
	p.handlers[kind] = h
}

// Run drains queueNames until ctx is cancelled. Each queue gets its own
// dequeue loop, its own bounded semaphore of p.concurrency slots, and a
// background reaper that promotes delayed retries and requeues jobs
// whose claim went stale (worker crashed mid-job).
func (p *Pool) Run(ctx context.Context, queueNames ...string) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, qn := range queueNames {
		queueName := qn
		g.Go(func() error { return p.drainQueue(ctx, queueName) })
		g.Go(func() error { return p.reapLoop(ctx, queueName) })
	}

	return g.Wait()
}

func (p *Pool) drainQueue(ctx context.Context, queueName string) error {
	sem := semaphore.NewWeighted(int64(p.concurrency))

	for {
		if ctx.Err() != nil {
			return nil
		}

		env, err := p.queue.Dequeue(ctx, queueName, 5*time.Second)
		if err != nil {
			if err == ErrEmpty || ctx.Err() != nil {
				continue
			}
			p.logger.Error("dequeue failed", "queue", queueName, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		if limiter, ok := p.limiters[env.Kind]; ok {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		go func(env *Envelope) {
			defer sem.Release(1)
			p.process(ctx, env)
		}(env)
	}
}

// process runs one job's handler under its soft timeout, acking on
// success and nacking (or dead-lettering once retries are exhausted) on
// failure.
func (p *Pool) process(ctx context.Context, env *Envelope) {
	spec, ok := Specs[env.Kind]
	if !ok {
		p.logger.Error("unknown job kind, dead-lettering", "kind", env.Kind, "job_id", env.ID)
		if ackErr := p.queue.Ack(ctx, env); ackErr != nil {
			p.logger.Error("ack failed", "job_id", env.ID, "error", ackErr)
		}
		p.deadLetter(ctx, env, fmt.Errorf("unknown job kind %q", env.Kind))
		return
	}

	handler, ok := p.handlers[env.Kind]
	if !ok {
		p.logger.Error("no handler registered, dead-lettering", "kind", env.Kind, "job_id", env.ID)
		if ackErr := p.queue.Ack(ctx, env); ackErr != nil {
			p.logger.Error("ack failed", "job_id", env.ID, "error", ackErr)
		}
		p.deadLetter(ctx, env, fmt.Errorf("no handler registered for kind %q", env.Kind))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, spec.SoftTimeout)
	defer cancel()

	err := handler(runCtx, env.Payload)
	if err == nil {
		if ackErr := p.queue.Ack(ctx, env); ackErr != nil {
			p.logger.Error("ack failed", "job_id", env.ID, "error", ackErr)
		}
		return
	}

	p.logger.Warn("job failed", "job_id", env.ID, "kind", env.Kind, "attempt", env.Attempt, "error", err)

	exhausted, nackErr := p.queue.Nack(ctx, env)
	if nackErr != nil {
		p.logger.Error("nack failed", "job_id", env.ID, "error", nackErr)
		return
	}
	if exhausted {
		p.deadLetter(ctx, env, err)
	}
}

func (p *Pool) deadLetter(ctx context.Context, env *Envelope, cause error) {
	if p.dlq == nil {
		return
	}
	var ids struct {
		AnalysisRunID string `json:"analysis_run_id"`
	}
	_ = json.Unmarshal(env.Payload, &ids)
	if err := p.dlq.Enqueue(ctx, env.ID, env.Queue, ids.AnalysisRunID, cause, map[string]interface{}{
		"kind": env.Kind,
	}); err != nil {
		p.logger.Error("failed to dead-letter job", "job_id", env.ID, "error", err)
	}
}

func (p *Pool) reapLoop(ctx context.Context, queueName string) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := p.queue.PromoteDelayed(ctx, queueName); err != nil {
				p.logger.Error("promote delayed failed", "queue", queueName, "error", err)
			} else if n > 0 {
				p.logger.Info("promoted delayed jobs", "queue", queueName, "count", n)
			}

			if n, err := p.queue.ReapStuck(ctx, queueName, 2*time.Minute); err != nil {
				p.logger.Error("reap stuck failed", "queue", queueName, "error", err)
			} else if n > 0 {
				p.logger.Warn("reaped stuck jobs", "queue", queueName, "count", n)
			}
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/archgraph/sentinel/internal/config"
	"github.com/archgraph/sentinel/internal/database"
	"github.com/archgraph/sentinel/internal/dlq"
	"github.com/archgraph/sentinel/internal/github"
	"github.com/archgraph/sentinel/internal/jobs"
	"github.com/archgraph/sentinel/internal/parserbridge"
	"github.com/archgraph/sentinel/internal/store"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker pool (C9) until interrupted",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	if result := cfg.Validate(config.ValidationContextWorker); result.HasErrors() {
		return fmt.Errorf("invalid configuration:\n%s", result.Error())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := cfg.Storage.LocalPath
	if cfg.Storage.Type == "postgres" {
		dsn = cfg.Storage.PostgresDSN
	}
	st, err := store.New(dsn, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()
	queue := jobs.NewQueue(rdb)

	var deadLetter *dlq.Queue
	if cfg.Storage.Type == "postgres" {
		pool, err := database.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres pool for dead letter queue: %w", err)
		}
		defer pool.Close()
		deadLetter = dlq.NewQueue(pool)
	} else {
		logger.Warn("storage backend is sqlite, running without a dead letter queue")
	}

	tenants, cacheClient, err := newTenantFactory(ctx)
	if err != nil {
		return fmt.Errorf("build tenant factory: %w", err)
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}
	defer tenants.CloseAll()

	registry := parserbridge.NewRegistry(
		parserbridge.NewJavaScriptBridge(),
		parserbridge.NewPythonBridge(),
	)

	analysisDeps := &jobs.AnalysisDeps{
		Store:     st,
		Tenants:   tenants,
		CloneBase: cfg.Worker.CloneBase,
		Registry:  registry,
		Queue:     queue,
		Logger:    logger,
	}

	hookDeps := &jobs.HookDeps{
		Store:  st,
		Logger: logger,
	}
	if cfg.GitHub.Token != "" {
		hookDeps.GitHub = github.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)
	}

	pool := jobs.NewPool(queue, deadLetter, cfg.Worker.Concurrency)
	pool.RegisterHandler(jobs.KindAnalyzeRepository, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunAnalyzeRepository(ctx, analysisDeps, raw)
	})
	pool.RegisterHandler(jobs.KindAnalyzeRepositoryPriority, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunAnalyzeRepository(ctx, analysisDeps, raw)
	})
	pool.RegisterHandler(jobs.KindAnalyzePR, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunAnalyzePR(ctx, analysisDeps, raw)
	})
	pool.RegisterHandler(jobs.KindOnComplete, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunOnComplete(ctx, hookDeps, raw)
	})
	pool.RegisterHandler(jobs.KindOnFailed, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunOnFailed(ctx, hookDeps, raw)
	})
	pool.RegisterHandler(jobs.KindPostPRComment, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunPostPRComment(ctx, hookDeps, raw)
	})
	pool.RegisterHandler(jobs.KindPostCheckRun, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunPostCheckRun(ctx, hookDeps, raw)
	})
	pool.RegisterHandler(jobs.KindSendWebhook, func(ctx context.Context, raw json.RawMessage) error {
		return jobs.RunSendWebhook(ctx, hookDeps, raw)
	})

	logger.WithField("concurrency", cfg.Worker.Concurrency).Info("starting worker pool")
	return pool.Run(ctx, jobs.QueueDefault, jobs.QueueAnalysis, jobs.QueueAnalysisPriority)
}

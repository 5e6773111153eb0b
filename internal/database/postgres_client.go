// Package database wraps a pgxpool.Pool connection pool for Postgres-backed
// components that need direct pgx access rather than sqlx's NamedExec
// convenience (internal/store uses sqlx directly; internal/dlq uses this
// pool for the dead-letter queue's bookkeeping).
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps a pgxpool.Pool with connect-time health verification and
// structured-logging lifecycle events, generalized from the teacher's
// metric-validation-specific Client (risk_assessment_methodology.md
// §5.2) into a bare connection-pool wrapper any Postgres-backed
// component can embed.
type Pool struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPool creates a pgxpool.Pool from dsn and verifies connectivity
// before returning, failing fast on startup the same way the teacher's
// NewClient does.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn missing")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger := slog.Default().With("component", "database")
	logger.Info("postgres pool connected")

	return &Pool{pool: pool, logger: logger}, nil
}

// Pool returns the underlying pgxpool.Pool for callers that need direct
// query access (internal/dlq).
func (p *Pool) Pool() *pgxpool.Pool { return p.pool }

// Close closes the connection pool.
func (p *Pool) Close() {
	p.pool.Close()
	p.logger.Info("postgres pool closed")
}

// HealthCheck verifies Postgres connectivity.
func (p *Pool) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

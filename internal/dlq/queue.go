// Package dlq tracks analysis jobs that exhausted the Job Runner's retry
// policy so an operator can inspect and replay them, adapted from the
// teacher's repo_id/commit_sha-keyed dead letter queue (internal/dlq,
// the GitHub-ingestion-failure domain) into the job_id/analysis_run_id
// keying this module's Job Runner needs.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/archgraph/sentinel/internal/database"
)

// Entry represents one dead-lettered job execution.
type Entry struct {
	ID            int64
	JobID         string
	Queue         string
	AnalysisRunID string
	ErrorMessage  string
	ErrorStack    string
	RetryCount    int
	LastRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      map[string]interface{}
}

// Stats contains DLQ statistics for a single queue.
type Stats struct {
	Queue            string
	TotalEntries     int
	RetryableEntries int
	ExhaustedRetries int
}

// Queue manages failed job executions, backed directly by pgx's native
// pool API rather than database/sql, so it exercises the same
// jackc/pgx/v5 dependency the teacher reaches for but through the
// generic internal/database.Pool wrapper rather than a one-off client.
type Queue struct {
	pool   *database.Pool
	logger *slog.Logger
}

// NewQueue creates a new DLQ manager.
func NewQueue(pool *database.Pool) *Queue {
	return &Queue{
		pool:   pool,
		logger: slog.Default().With("component", "dlq"),
	}
}

// EnsureSchema creates the dead_letter_queue table if it does not exist
// yet, following the teacher's inline-schema-on-connect style
// (internal/storage/sqlite.go's initSchema) rather than a separate
// migration tool.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	_, err := q.pool.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS dead_letter_queue (
			id              BIGSERIAL PRIMARY KEY,
			job_id          TEXT NOT NULL UNIQUE,
			queue_name      TEXT NOT NULL,
			analysis_run_id TEXT NOT NULL,
			error_message   TEXT NOT NULL,
			error_stack     TEXT NOT NULL DEFAULT '',
			retry_count     INT NOT NULL DEFAULT 0,
			last_retry_at   TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			metadata        JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_dlq_queue_retry ON dead_letter_queue (queue_name, retry_count);
	`)
	if err != nil {
		return fmt.Errorf("failed to create dead_letter_queue schema: %w", err)
	}
	return nil
}

// Enqueue records a job execution that exhausted its retries. If the job
// is already present, its retry_count is incremented instead of
// inserting a duplicate row.
func (q *Queue) Enqueue(ctx context.Context, jobID, queueName, analysisRunID string, jobErr error, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	errorMsg := jobErr.Error()
	errorStack := fmt.Sprintf("%+v", jobErr)

	_, dbErr := q.pool.Pool().Exec(ctx, `
		INSERT INTO dead_letter_queue (job_id, queue_name, analysis_run_id, error_message, error_stack, retry_count, metadata)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (job_id) DO UPDATE
		SET retry_count = dead_letter_queue.retry_count + 1,
		    error_message = $4,
		    error_stack = $5,
		    updated_at = NOW(),
		    last_retry_at = NOW(),
		    metadata = $6
	`, jobID, queueName, analysisRunID, errorMsg, errorStack, metadataJSON)

	if dbErr != nil {
		return fmt.Errorf("failed to enqueue job to DLQ: %w", dbErr)
	}

	q.logger.Warn("job enqueued to DLQ",
		"job_id", jobID,
		"queue", queueName,
		"error", errorMsg,
	)

	return nil
}

// GetPendingRetries returns jobs on queueName still under maxRetries.
func (q *Queue) GetPendingRetries(ctx context.Context, queueName string, maxRetries int) ([]Entry, error) {
	rows, err := q.pool.Pool().Query(ctx, `
		SELECT id, job_id, queue_name, analysis_run_id, error_message, error_stack, retry_count, last_retry_at, created_at, updated_at, metadata
		FROM dead_letter_queue
		WHERE queue_name = $1 AND retry_count < $2
		ORDER BY created_at ASC
	`, queueName, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query DLQ: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows, q.logger)
}

// MarkResolved removes a job from the DLQ after a successful retry.
func (q *Queue) MarkResolved(ctx context.Context, jobID string) error {
	tag, err := q.pool.Pool().Exec(ctx, `DELETE FROM dead_letter_queue WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}

	if tag.RowsAffected() > 0 {
		q.logger.Info("job resolved and removed from DLQ", "job_id", jobID)
	}

	return nil
}

// GetStats returns DLQ statistics for a single queue.
func (q *Queue) GetStats(ctx context.Context, queueName string, maxRetries int) (*Stats, error) {
	var stats Stats

	err := q.pool.Pool().QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE retry_count >= $2) AS exhausted,
			COUNT(*) FILTER (WHERE retry_count < $2) AS retryable
		FROM dead_letter_queue
		WHERE queue_name = $1
	`, queueName, maxRetries).Scan(&stats.TotalEntries, &stats.ExhaustedRetries, &stats.RetryableEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stats: %w", err)
	}

	stats.Queue = queueName
	return &stats, nil
}

// GetRecentFailures returns the N most recently updated entries on queueName.
func (q *Queue) GetRecentFailures(ctx context.Context, queueName string, limit int) ([]Entry, error) {
	rows, err := q.pool.Pool().Query(ctx, `
		SELECT id, job_id, queue_name, analysis_run_id, error_message, error_stack, retry_count, last_retry_at, created_at, updated_at, metadata
		FROM dead_letter_queue
		WHERE queue_name = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, queueName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows, q.logger)
}

// PurgeOld removes DLQ entries created before now-olderThan.
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	tag, err := q.pool.Pool().Exec(ctx, `DELETE FROM dead_letter_queue WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old DLQ entries: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		q.logger.Info("purged old DLQ entries", "count", n, "older_than", olderThan)
		return int(n), nil
	}

	return 0, nil
}

func scanEntries(rows pgx.Rows, logger *slog.Logger) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var metadataJSON []byte
		var lastRetryAt *time.Time

		err := rows.Scan(&e.ID, &e.JobID, &e.Queue, &e.AnalysisRunID, &e.ErrorMessage, &e.ErrorStack,
			&e.RetryCount, &lastRetryAt, &e.CreatedAt, &e.UpdatedAt, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DLQ entry: %w", err)
		}

		e.LastRetryAt = lastRetryAt

		e.Metadata = make(map[string]interface{})
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				logger.Warn("failed to unmarshal metadata", "entry_id", e.ID, "error", err)
			}
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore persists AnalysisRun/Finding state in Postgres, grounded
// on the teacher's internal/storage/postgres.go (sqlx + pgx stdlib
// driver, ON CONFLICT upsert, pooled connections).
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore connects to dsn and configures the pool the same way
// the teacher's PostgresStore does.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateAnalysisRun(ctx context.Context, run *AnalysisRun) error {
	query := `
		INSERT INTO analysis_runs (
			id, repo_id, commit_sha, status, progress_percent, current_step, started_at
		) VALUES (
			:id, :repo_id, :commit_sha, :status, :progress_percent, :current_step, :started_at
		)
	`
	_, err := s.db.NamedExecContext(ctx, query, run)
	if err != nil {
		return fmt.Errorf("create analysis run: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = $1, started_at = $2 WHERE id = $3
	`, StatusRunning, now, runID)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, runID string, percent int, step string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET progress_percent = $1, current_step = $2 WHERE id = $3
	`, percent, step, runID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteAnalysisRun(ctx context.Context, runID string, healthScore, structureScore, qualityScore, architectureScore float64, findingsCount, filesAnalyzed int) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET
			status = $1, health_score = $2, structure_score = $3, quality_score = $4,
			architecture_score = $5, findings_count = $6, files_analyzed = $7,
			completed_at = $8, progress_percent = 100, current_step = 'done'
		WHERE id = $9
	`, StatusCompleted, healthScore, structureScore, qualityScore, architectureScore,
		findingsCount, filesAnalyzed, now, runID)
	if err != nil {
		return fmt.Errorf("complete analysis run: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailAnalysisRun(ctx context.Context, runID, errMessage string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4
	`, StatusFailed, errMessage, now, runID)
	if err != nil {
		return fmt.Errorf("fail analysis run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisRun(ctx context.Context, runID string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM analysis_runs WHERE id = $1`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis run: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) GetMostRecentCompleted(ctx context.Context, repoID string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM analysis_runs WHERE repo_id = $1 AND status = $2
		ORDER BY completed_at DESC LIMIT 1
	`, repoID, StatusCompleted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get most recent completed analysis run: %w", err)
	}
	return &run, nil
}

func (s *PostgresStore) SaveFindings(ctx context.Context, findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO findings (
			id, analysis_run_id, detector, severity, title, description, files,
			line_start, line_end, suggested_fix, estimated_effort, graph_context, collab_meta
		) VALUES (
			:id, :analysis_run_id, :detector, :severity, :title, :description, :files,
			:line_start, :line_end, :suggested_fix, :estimated_effort, :graph_context, :collab_meta
		)
	`
	for _, f := range findings {
		if err := marshalFindingJSON(f); err != nil {
			return fmt.Errorf("marshal finding %s: %w", f.ID, err)
		}
		if _, err := tx.NamedExecContext(ctx, query, f); err != nil {
			return fmt.Errorf("save finding %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) GetFindings(ctx context.Context, runID string) ([]*Finding, error) {
	var findings []*Finding
	err := s.db.SelectContext(ctx, &findings, `
		SELECT * FROM findings WHERE analysis_run_id = $1 ORDER BY severity DESC, detector, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get findings: %w", err)
	}
	for _, f := range findings {
		unmarshalFindingJSON(f)
	}
	return findings, nil
}

func marshalFindingJSON(f *Finding) error {
	filesJSON, err := json.Marshal(f.Files)
	if err != nil {
		return err
	}
	f.FilesJSON = string(filesJSON)
	if f.GraphContextJSON == "" {
		f.GraphContextJSON = "{}"
	}
	if f.CollabMetaJSON == "" {
		f.CollabMetaJSON = "[]"
	}
	return nil
}

func unmarshalFindingJSON(f *Finding) {
	_ = json.Unmarshal([]byte(f.FilesJSON), &f.Files)
}

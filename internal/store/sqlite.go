package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore is the local/offline backend, grounded on the teacher's
// internal/storage/sqlite.go (WAL mode, foreign keys, embedded schema
// creation on connect rather than a separate migration step).
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens or creates the database file at path.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_runs (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		commit_sha TEXT NOT NULL,
		status TEXT NOT NULL,
		health_score REAL,
		structure_score REAL,
		quality_score REAL,
		architecture_score REAL,
		findings_count INTEGER NOT NULL DEFAULT 0,
		files_analyzed INTEGER NOT NULL DEFAULT 0,
		score_delta REAL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		progress_percent INTEGER NOT NULL DEFAULT 0,
		current_step TEXT,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_runs_repo_status ON analysis_runs(repo_id, status);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		analysis_run_id TEXT NOT NULL REFERENCES analysis_runs(id),
		detector TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		files TEXT,
		line_start INTEGER,
		line_end INTEGER,
		suggested_fix TEXT,
		estimated_effort TEXT,
		graph_context TEXT,
		collab_meta TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(analysis_run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateAnalysisRun(ctx context.Context, run *AnalysisRun) error {
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

func (s *SQLiteStore) MarkRunning(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, started_at = ? WHERE id = ?
	`, StatusRunning, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, runID string, percent int, step string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET progress_percent = ?, current_step = ? WHERE id = ?
	`, percent, step, runID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompleteAnalysisRun(ctx context.Context, runID string, healthScore, structureScore, qualityScore, architectureScore float64, findingsCount, filesAnalyzed int) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET
			status = ?, health_score = ?, structure_score = ?, quality_score = ?,
			architecture_score = ?, findings_count = ?, files_analyzed = ?,
			completed_at = ?, progress_percent = 100, current_step = 'done'
		WHERE id = ?
	`, StatusCompleted, healthScore, structureScore, qualityScore, architectureScore,
		findingsCount, filesAnalyzed, now, runID)
	if err != nil {
		return fmt.Errorf("complete analysis run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailAnalysisRun(ctx context.Context, runID, errMessage string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE analysis_runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?
	`, StatusFailed, errMessage, now, runID)
	if err != nil {
		return fmt.Errorf("fail analysis run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAnalysisRun(ctx context.Context, runID string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM analysis_runs WHERE id = ?`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis run: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) GetMostRecentCompleted(ctx context.Context, repoID string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.GetContext(ctx, &run, `
		SELECT * FROM analysis_runs WHERE repo_id = ? AND status = ?
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

func (s *SQLiteStore) SaveFindings(ctx context.Context, findings []*Finding) error {
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

func (s *SQLiteStore) GetFindings(ctx context.Context, runID string) ([]*Finding, error) {
	var findings []*Finding
	err := s.db.SelectContext(ctx, &findings, `
		SELECT * FROM findings WHERE analysis_run_id = ? ORDER BY severity DESC, detector, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get findings: %w", err)
	}
	for _, f := range findings {
		unmarshalFindingJSON(f)
	}
	return findings, nil
}

// jsonOrEmpty builds GraphContextJSON from a detector's map[string]any for
// FromDetectorFinding, falling back to "{}" for nil or unencodable values.
func jsonOrEmpty(v any) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Package store persists the per-analysis state layout: AnalysisRun and
// Finding records, across either backend the teacher's own storage
// package supported — Postgres for shared/production deployments,
// SQLite for local/offline ones. Unlike the teacher's models-keyed
// Store (repositories, commits, PRs, issues — the GitHub-ingestion
// domain this module doesn't have), this Store is keyed around one
// thing: the lifecycle of an analysis run and the findings it produced.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound mirrors the teacher's sentinel error for a missing row.
var ErrNotFound = errors.New("store: not found")

// AnalysisRunStatus enumerates the lifecycle states of an analysis run.
type AnalysisRunStatus string

const (
	StatusPending   AnalysisRunStatus = "pending"
	StatusRunning   AnalysisRunStatus = "running"
	StatusCompleted AnalysisRunStatus = "completed"
	StatusFailed    AnalysisRunStatus = "failed"
)

// AnalysisRun is the persisted record of one analysis run.
type AnalysisRun struct {
	ID                 string            `db:"id"`
	RepoID             string            `db:"repo_id"`
	CommitSHA          string            `db:"commit_sha"`
	Status             AnalysisRunStatus `db:"status"`
	HealthScore        *float64          `db:"health_score"`
	StructureScore     *float64          `db:"structure_score"`
	QualityScore       *float64          `db:"quality_score"`
	ArchitectureScore  *float64          `db:"architecture_score"`
	FindingsCount      int               `db:"findings_count"`
	FilesAnalyzed      int               `db:"files_analyzed"`
	ScoreDelta         *float64          `db:"score_delta"`
	StartedAt          time.Time         `db:"started_at"`
	CompletedAt        *time.Time        `db:"completed_at"`
	ProgressPercent    int               `db:"progress_percent"`
	CurrentStep        string            `db:"current_step"`
	ErrorMessage       *string           `db:"error_message"`
}

// Finding is the persisted record of a detector finding — the stored form of
// detectors.Finding, one row per finding per analysis run.
type Finding struct {
	ID              string   `db:"id"`
	AnalysisRunID   string   `db:"analysis_run_id"`
	Detector        string   `db:"detector"`
	Severity        string   `db:"severity"`
	Title           string   `db:"title"`
	Description     string   `db:"description"`
	Files           []string `db:"-"`
	FilesJSON       string   `db:"files"`
	LineStart       *int     `db:"line_start"`
	LineEnd         *int     `db:"line_end"`
	SuggestedFix    string   `db:"suggested_fix"`
	EstimatedEffort string   `db:"estimated_effort"`
	GraphContextJSON string  `db:"graph_context"`
	CollabMetaJSON  string   `db:"collab_meta"`
}

// New opens a Store appropriate to dsn: a "postgres://"/"postgresql://"
// DSN selects PostgresStore, anything else is treated as a SQLite file
// path (the teacher's storage.Type switch, collapsed to a DSN-prefix
// dispatch since this package has no separate config type of its own).
func New(dsn string, logger *logrus.Logger) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPostgresStore(dsn, logger)
	}
	return NewSQLiteStore(dsn, logger)
}

// Store is the persistence boundary the Job Runner and CLI use. Every
// method is tenant-scoped by repoID at the call site, not inside the
// interface, the same way graph.Backend leaves repoId scoping to its
// callers' query parameters.
type Store interface {
	CreateAnalysisRun(ctx context.Context, run *AnalysisRun) error
	MarkRunning(ctx context.Context, runID string) error
	UpdateProgress(ctx context.Context, runID string, percent int, step string) error
	CompleteAnalysisRun(ctx context.Context, runID string, healthScore, structureScore, qualityScore, architectureScore float64, findingsCount, filesAnalyzed int) error
	FailAnalysisRun(ctx context.Context, runID, errMessage string) error
	GetAnalysisRun(ctx context.Context, runID string) (*AnalysisRun, error)
	GetMostRecentCompleted(ctx context.Context, repoID string) (*AnalysisRun, error)

	SaveFindings(ctx context.Context, findings []*Finding) error
	GetFindings(ctx context.Context, runID string) ([]*Finding, error)

	Close() error
}

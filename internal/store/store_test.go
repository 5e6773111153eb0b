package store

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", logrus.StandardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_AnalysisRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &AnalysisRun{
		ID: "run-1", RepoID: "repo-1", CommitSHA: "abc123",
		Status: StatusPending, StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAnalysisRun(ctx, run))

	require.NoError(t, s.UpdateProgress(ctx, "run-1", 42, "parsing"))
	got, err := s.GetAnalysisRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.ProgressPercent)
	assert.Equal(t, "parsing", got.CurrentStep)

	require.NoError(t, s.CompleteAnalysisRun(ctx, "run-1", 0.9, 0.8, 0.95, 0.85, 3, 120))
	got, err = s.GetAnalysisRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	require.NotNil(t, got.HealthScore)
	assert.InDelta(t, 0.9, *got.HealthScore, 0.0001)
	assert.Equal(t, 3, got.FindingsCount)
}

func TestSQLiteStore_MarkRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &AnalysisRun{ID: "run-mark", RepoID: "repo-1", CommitSHA: "abc", Status: StatusPending, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateAnalysisRun(ctx, run))
	require.NoError(t, s.MarkRunning(ctx, "run-mark"))

	got, err := s.GetAnalysisRun(ctx, "run-mark")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestSQLiteStore_FailAnalysisRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &AnalysisRun{ID: "run-2", RepoID: "repo-1", CommitSHA: "abc", Status: StatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateAnalysisRun(ctx, run))
	require.NoError(t, s.FailAnalysisRun(ctx, "run-2", "clone timed out"))

	got, err := s.GetAnalysisRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "clone timed out", *got.ErrorMessage)
}

func TestSQLiteStore_GetAnalysisRun_MissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAnalysisRun(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_GetMostRecentCompleted_PicksNewestCompletedOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &AnalysisRun{ID: "run-old", RepoID: "repo-1", CommitSHA: "a", Status: StatusPending, StartedAt: time.Now().UTC()}
	newer := &AnalysisRun{ID: "run-new", RepoID: "repo-1", CommitSHA: "b", Status: StatusPending, StartedAt: time.Now().UTC()}
	running := &AnalysisRun{ID: "run-running", RepoID: "repo-1", CommitSHA: "c", Status: StatusPending, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateAnalysisRun(ctx, older))
	require.NoError(t, s.CreateAnalysisRun(ctx, newer))
	require.NoError(t, s.CreateAnalysisRun(ctx, running))

	require.NoError(t, s.CompleteAnalysisRun(ctx, "run-old", 0.5, 0.5, 0.5, 0.5, 1, 10))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.CompleteAnalysisRun(ctx, "run-new", 0.7, 0.7, 0.7, 0.7, 2, 20))
	// run-running stays pending, must never be picked.

	got, err := s.GetMostRecentCompleted(ctx, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "run-new", got.ID)
}

func TestSQLiteStore_SaveAndGetFindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &AnalysisRun{ID: "run-3", RepoID: "repo-1", CommitSHA: "abc", Status: StatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateAnalysisRun(ctx, run))

	findings := []*Finding{
		{ID: "f1", AnalysisRunID: "run-3", Detector: "complexity", Severity: "high", Title: "t1", Files: []string{"a.go"}},
		{ID: "f2", AnalysisRunID: "run-3", Detector: "god_class", Severity: "medium", Title: "t2", Files: []string{"b.go", "c.go"}},
	}
	require.NoError(t, s.SaveFindings(ctx, findings))

	got, err := s.GetFindings(ctx, "run-3")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"f1", "f2"}, []string{got[0].ID, got[1].ID})
	for _, f := range got {
		if f.ID == "f2" {
			assert.Equal(t, []string{"b.go", "c.go"}, f.Files)
		}
	}
}

package querycache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/archgraph/sentinel/internal/graph"
)

// fakeBackend answers ExecuteQuery by matching a substring of the query
// text against a fixed row set, enough to exercise Materialize's seven
// index-building branches without a real graph store. Every other
// graph.Backend method is a no-op stub; Materialize never calls them.
type fakeBackend struct {
	rowsByQuery map[string][]map[string]any
	failQueries map[string]bool
}

func newFakeBackendForCache() *fakeBackend {
	return &fakeBackend{
		rowsByQuery: map[string][]map[string]any{
			"f.complexity AS complexity": {
				{"qualifiedName": "pkg.mod.foo", "filePath": "pkg/mod.py", "lineStart": 1, "lineEnd": 3, "complexity": 2, "parameters": []any{"x"}, "isMethod": false, "isStatic": false, "isAsync": false},
			},
			"c.lineStart AS lineStart": {
				{"qualifiedName": "pkg.mod.Widget", "filePath": "pkg/mod.py", "lineStart": 5, "lineEnd": 10},
			},
			"f.lineCount AS lineCount": {
				{"path": "pkg/mod.py", "language": "python", "lineCount": 10, "isTest": false},
			},
			"-[:CALLS]->": {
				{"caller": "pkg.mod.foo", "callee": "pkg.mod.bar"},
			},
			"-[:INHERITS]->": {
				{"child": "pkg.mod.Dog", "parent": "pkg.mod.Animal"},
			},
			"-[:IMPORTS]->": {
				{"importer": "pkg/mod.py", "imported": "json"},
			},
			"-[:CONTAINS]->": {
				{"classQN": "pkg.mod.Widget", "functionQN": "pkg.mod.Widget.render"},
			},
		},
	}
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func (b *fakeBackend) ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	for substr, rows := range b.rowsByQuery {
		if containsSubstr(query, substr) {
			if b.failQueries[substr] {
				return nil, assert.AnError
			}
			return rows, nil
		}
	}
	return nil, nil
}

func (b *fakeBackend) BatchCreateNodes(ctx context.Context, entities []graph.Entity) error { return nil }
func (b *fakeBackend) BatchCreateRelationships(ctx context.Context, rels []graph.Relationship) error {
	return nil
}
func (b *fakeBackend) DeleteFileEntities(ctx context.Context, repoID, path string) (int, error) {
	return 0, nil
}
func (b *fakeBackend) DeleteRepository(ctx context.Context, repoID string) (int, error) {
	return 0, nil
}
func (b *fakeBackend) GetAllFilePaths(ctx context.Context, repoID string) ([]string, error) {
	return nil, nil
}
func (b *fakeBackend) GetFileMetadata(ctx context.Context, repoID, path string) (*graph.FileMetadata, error) {
	return nil, nil
}
func (b *fakeBackend) CreateIndexes(ctx context.Context) error { return nil }
func (b *fakeBackend) SupportsTemporalTypes() bool             { return true }
func (b *fakeBackend) SupportsConstraints() bool               { return true }
func (b *fakeBackend) SupportsFullTextIndex() bool             { return true }
func (b *fakeBackend) Close() error                            { return nil }

func TestMaterialize_BuildsAllSevenIndexes(t *testing.T) {
	backend := newFakeBackendForCache()

	cache, err := Materialize(context.Background(), backend, "repo-1")
	require.NoError(t, err)

	assert.Equal(t, "pkg/mod.py", cache.Functions["pkg.mod.foo"].FilePath)
	assert.Equal(t, 2, cache.Functions["pkg.mod.foo"].Complexity)
	assert.Equal(t, "pkg/mod.py", cache.Classes["pkg.mod.Widget"].FilePath)
	assert.Equal(t, "python", cache.Files["pkg/mod.py"].Language)
	assert.ElementsMatch(t, []string{"pkg.mod.bar"}, cache.Callees("pkg.mod.foo"))
	assert.ElementsMatch(t, []string{"pkg.mod.foo"}, cache.Callers("pkg.mod.bar"))
	assert.ElementsMatch(t, []string{"pkg.mod.Animal"}, cache.Parents("pkg.mod.Dog"))
	assert.ElementsMatch(t, []string{"pkg.mod.Dog"}, cache.Children("pkg.mod.Animal"))
	assert.ElementsMatch(t, []string{"json"}, cache.ImportedModules("pkg/mod.py"))
	assert.Equal(t, []string{"pkg.mod.Widget.render"}, cache.MethodsByClass["pkg.mod.Widget"])
	assert.Equal(t, "pkg.mod.Widget", cache.ParentClass["pkg.mod.Widget.render"])
}

func TestMaterialize_NilBackendErrors(t *testing.T) {
	_, err := Materialize(context.Background(), nil, "repo-1")
	assert.ErrorIs(t, err, ErrNilBackend)
}

func TestMaterialize_PartialQueryFailureLeavesThatIndexEmpty(t *testing.T) {
	backend := newFakeBackendForCache()
	backend.failQueries = map[string]bool{"-[:CALLS]->": true}

	cache, err := Materialize(context.Background(), backend, "repo-1")
	require.NoError(t, err)
	assert.Empty(t, cache.Calls)
	assert.NotEmpty(t, cache.Functions)
}

func TestSnapshot_RoundTripsThroughBbolt(t *testing.T) {
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "cache.db"), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	cache := &Cache{
		RepoID:    "repo-1",
		Functions: map[string]FunctionInfo{"pkg.mod.foo": {FilePath: "pkg/mod.py"}},
	}

	require.NoError(t, SaveSnapshot(db, cache))

	loaded, err := LoadSnapshot(db, "repo-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "pkg/mod.py", loaded.Functions["pkg.mod.foo"].FilePath)

	require.NoError(t, DeleteSnapshot(db, "repo-1"))
	loaded, err = LoadSnapshot(db, "repo-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadSnapshot_MissingRepoReturnsNil(t *testing.T) {
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "cache2.db"), 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	loaded, err := LoadSnapshot(db, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

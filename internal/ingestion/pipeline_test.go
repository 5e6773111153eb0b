package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/graph"
	"github.com/archgraph/sentinel/internal/parserbridge"
)

// fakeBackend is an in-memory stand-in for graph.Backend, tracking just
// enough state (file hash-by-path, node/relationship counts) to assert the
// pipeline's diff/batch/delete behavior without a real graph store.
type fakeBackend struct {
	files         map[string]*graph.FileMetadata
	nodesCreated  int
	relsCreated   int
	deletedPaths  []string
	indexesEnsured bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: map[string]*graph.FileMetadata{}}
}

func (b *fakeBackend) ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	return nil, nil
}

func (b *fakeBackend) BatchCreateNodes(ctx context.Context, entities []graph.Entity) error {
	b.nodesCreated += len(entities)
	for _, e := range entities {
		if f, ok := e.(graph.File); ok {
			b.files[f.Path] = &graph.FileMetadata{Hash: f.ContentHash}
		}
	}
	return nil
}

func (b *fakeBackend) BatchCreateRelationships(ctx context.Context, rels []graph.Relationship) error {
	b.relsCreated += len(rels)
	return nil
}

func (b *fakeBackend) DeleteFileEntities(ctx context.Context, repoID, path string) (int, error) {
	delete(b.files, path)
	b.deletedPaths = append(b.deletedPaths, path)
	return 1, nil
}

func (b *fakeBackend) DeleteRepository(ctx context.Context, repoID string) (int, error) {
	n := len(b.files)
	b.files = map[string]*graph.FileMetadata{}
	return n, nil
}

func (b *fakeBackend) GetAllFilePaths(ctx context.Context, repoID string) ([]string, error) {
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	return paths, nil
}

func (b *fakeBackend) GetFileMetadata(ctx context.Context, repoID, path string) (*graph.FileMetadata, error) {
	return b.files[path], nil
}

func (b *fakeBackend) CreateIndexes(ctx context.Context) error {
	b.indexesEnsured = true
	return nil
}

func (b *fakeBackend) SupportsTemporalTypes() bool { return true }
func (b *fakeBackend) SupportsConstraints() bool   { return true }
func (b *fakeBackend) SupportsFullTextIndex() bool { return true }
func (b *fakeBackend) Close() error                { return nil }

func writeRepoFile(t *testing.T, root, relPath, contents string) {
	t.Helper()
	abs := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(contents), 0o644))
}

func newTestRegistry() *parserbridge.Registry {
	return parserbridge.NewRegistry(parserbridge.NewPythonBridge(), parserbridge.NewJavaScriptBridge())
}

func TestPipeline_Run_FullIngestCreatesNodesAndSkipsNothing(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "pkg/mod.py", "def top_level():\n    return 1\n")
	writeRepoFile(t, root, "pkg/other.py", "class Widget:\n    def render(self):\n        pass\n")

	backend := newFakeBackend()
	p := New(newTestRegistry(), nil)

	result, err := p.Run(context.Background(), Input{
		Root:    root,
		Backend: backend,
		RepoID:  "repo-1",
		RepoSlug: "acme",
	})
	require.NoError(t, err)

	assert.True(t, backend.indexesEnsured)
	assert.Equal(t, 0, result.FilesFailed)
	assert.Greater(t, backend.nodesCreated, 0)
	assert.Greater(t, backend.relsCreated, 0)
	assert.Contains(t, backend.files, "pkg/mod.py")
	assert.Contains(t, backend.files, "pkg/other.py")
}

func TestPipeline_Run_IncrementalClassifiesNewChangedUnchanged(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "pkg/mod.py", "def f():\n    return 1\n")

	backend := newFakeBackend()
	p := New(newTestRegistry(), nil)
	ctx := context.Background()

	first, err := p.Run(ctx, Input{Root: root, Backend: backend, RepoID: "repo-1", RepoSlug: "acme", Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 1, first.FilesNew)

	// Second run, nothing changed: should be fully unchanged.
	second, err := p.Run(ctx, Input{Root: root, Backend: backend, RepoID: "repo-1", RepoSlug: "acme", Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesUnchanged)
	assert.Equal(t, 0, second.FilesNew)
	assert.Equal(t, 0, second.FilesChanged)

	// Change the file's content: should be classified as changed.
	writeRepoFile(t, root, "pkg/mod.py", "def f():\n    return 2\n")
	third, err := p.Run(ctx, Input{Root: root, Backend: backend, RepoID: "repo-1", RepoSlug: "acme", Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 1, third.FilesChanged)
}

func TestPipeline_Run_IncrementalDeletesRemovedFiles(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "pkg/a.py", "def f():\n    return 1\n")
	writeRepoFile(t, root, "pkg/b.py", "def g():\n    return 2\n")

	backend := newFakeBackend()
	p := New(newTestRegistry(), nil)
	ctx := context.Background()

	_, err := p.Run(ctx, Input{Root: root, Backend: backend, RepoID: "repo-1", RepoSlug: "acme", Incremental: true})
	require.NoError(t, err)
	require.Contains(t, backend.files, "pkg/b.py")

	require.NoError(t, os.Remove(filepath.Join(root, "pkg/b.py")))

	result, err := p.Run(ctx, Input{Root: root, Backend: backend, RepoID: "repo-1", RepoSlug: "acme", Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.NotContains(t, backend.files, "pkg/b.py")
}

func TestPipeline_Run_InvokesOnFileChangedPerProcessedFile(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "pkg/mod.py", "def f():\n    return 1\n")

	backend := newFakeBackend()
	p := New(newTestRegistry(), nil)

	var changed []string
	_, err := p.Run(context.Background(), Input{
		Root:    root,
		Backend: backend,
		RepoID:  "repo-1",
		RepoSlug: "acme",
		OnFileChanged: func(relPath string) { changed = append(changed, relPath) },
	})
	require.NoError(t, err)
	assert.Contains(t, changed, "pkg/mod.py")
}

func TestPipeline_Run_BatchesAtConfiguredSize(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeRepoFile(t, root, filepath.Join("pkg", "m"+string(rune('a'+i))+".py"), "def f():\n    return 1\n")
	}

	backend := newFakeBackend()
	p := New(newTestRegistry(), nil)

	result, err := p.Run(context.Background(), Input{
		Root:      root,
		Backend:   backend,
		RepoID:    "repo-1",
		RepoSlug:  "acme",
		BatchSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesFailed)
	assert.Equal(t, 5, len(backend.files))
}

func TestPipeline_Run_UnsupportedFileIsSkippedNotFatal(t *testing.T) {
	root := t.TempDir()
	writeRepoFile(t, root, "pkg/mod.py", "def f():\n    return 1\n")
	writeRepoFile(t, root, "notes.txt", "not source code")

	backend := newFakeBackend()
	p := New(newTestRegistry(), nil)

	result, err := p.Run(context.Background(), Input{
		Root:     root,
		Backend:  backend,
		RepoID:   "repo-1",
		RepoSlug: "acme",
		Patterns: []string{"**/*.py", "**/*.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Contains(t, backend.files, "pkg/mod.py")
}

package enricher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/graph"
)

// fakeBackend is an in-memory graph.Backend recording created nodes/edges
// and answering ExecuteQuery against that same in-memory state, enough to
// exercise the enricher's read paths without a real graph.
type fakeBackend struct {
	nodes        []graph.Entity
	rels         []graph.Relationship
	failNodes    bool
	failRels     bool
	failQuery    bool
}

func (b *fakeBackend) ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	if b.failQuery {
		return nil, assert.AnError
	}

	entityQN, _ := params["entityQN"].(string)
	detectorFilter, hasDetectorFilter := params["detector"].(string)

	var rows []map[string]any
	for _, rel := range b.rels {
		if rel.Kind != graph.RelFlaggedBy {
			continue
		}
		if entityQN != "" && rel.From != entityQN {
			continue
		}
		var meta graph.DetectorMetadata
		for _, n := range b.nodes {
			if dm, ok := n.(graph.DetectorMetadata); ok && dm.ID == rel.To {
				meta = dm
				break
			}
		}
		if hasDetectorFilter && meta.Detector != detectorFilter {
			continue
		}
		row := map[string]any{
			"id": meta.ID, "detector": meta.Detector, "severity": meta.Severity,
			"issues": toAnySlice(meta.Issues), "confidence": meta.Confidence,
			"timestamp": meta.Timestamp, "metadataJson": meta.MetadataJSON,
		}
		if entityQN == "" {
			row["entityQN"] = rel.From
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}

func (b *fakeBackend) BatchCreateNodes(ctx context.Context, entities []graph.Entity) error {
	if b.failNodes {
		return assert.AnError
	}
	b.nodes = append(b.nodes, entities...)
	return nil
}

func (b *fakeBackend) BatchCreateRelationships(ctx context.Context, rels []graph.Relationship) error {
	if b.failRels {
		return assert.AnError
	}
	b.rels = append(b.rels, rels...)
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

func TestFlagEntity_CreatesNodeAndEdge(t *testing.T) {
	backend := &fakeBackend{}
	e := New(backend)

	ok := e.FlagEntity(context.Background(), "repo-1", "run-1", "pkg.mod.foo", "complexity", "high", []string{"too complex"}, 0.9, map[string]any{"threshold": 10})
	assert.True(t, ok)
	require.Len(t, backend.nodes, 1)
	require.Len(t, backend.rels, 1)

	dm := backend.nodes[0].(graph.DetectorMetadata)
	assert.Equal(t, "complexity", dm.Detector)
	assert.Equal(t, "high", dm.Severity)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(dm.MetadataJSON), &meta))
	assert.Equal(t, float64(10), meta["threshold"])

	assert.Equal(t, graph.RelFlaggedBy, backend.rels[0].Kind)
	assert.Equal(t, "pkg.mod.foo", backend.rels[0].From)
}

func TestFlagEntity_NodeCreateFailureSwallowed(t *testing.T) {
	backend := &fakeBackend{failNodes: true}
	e := New(backend)

	ok := e.FlagEntity(context.Background(), "repo-1", "run-1", "pkg.mod.foo", "complexity", "high", nil, 0.9, nil)
	assert.False(t, ok)
}

func TestGetEntityFlags_ReturnsFlagsForEntity(t *testing.T) {
	backend := &fakeBackend{}
	e := New(backend)
	require.True(t, e.FlagEntity(context.Background(), "repo-1", "run-1", "pkg.mod.foo", "complexity", "high", []string{"x"}, 0.9, nil))

	flags, err := e.GetEntityFlags(context.Background(), "repo-1", "pkg.mod.foo")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "complexity", flags[0].Detector)
}

func TestIsEntityFlagged_TrueAfterFlagging(t *testing.T) {
	backend := &fakeBackend{}
	e := New(backend)
	require.True(t, e.FlagEntity(context.Background(), "repo-1", "run-1", "pkg.mod.foo", "complexity", "high", nil, 0.9, nil))

	flagged, err := e.IsEntityFlagged(context.Background(), "repo-1", "pkg.mod.foo", "")
	require.NoError(t, err)
	assert.True(t, flagged)

	flagged, err = e.IsEntityFlagged(context.Background(), "repo-1", "pkg.mod.foo", "other-detector")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestGetDuplicateFindings_CountsDistinctDetectors(t *testing.T) {
	backend := &fakeBackend{}
	e := New(backend)
	require.True(t, e.FlagEntity(context.Background(), "repo-1", "run-1", "pkg.mod.foo", "complexity", "high", nil, 0.9, nil))
	require.True(t, e.FlagEntity(context.Background(), "repo-1", "run-1", "pkg.mod.foo", "coupling", "medium", nil, 0.7, nil))

	isDup, flags, err := e.GetDuplicateFindings(context.Background(), "repo-1", "pkg.mod.foo", 2)
	require.NoError(t, err)
	assert.True(t, isDup)
	assert.Len(t, flags, 2)

	isDup, _, err = e.GetDuplicateFindings(context.Background(), "repo-1", "pkg.mod.foo", 3)
	require.NoError(t, err)
	assert.False(t, isDup)
}

func TestCleanupMetadata_ErrorsPropagateUnlikeFlagEntity(t *testing.T) {
	backend := &fakeBackend{failQuery: true}
	e := New(backend)

	err := e.CleanupMetadata(context.Background(), "repo-1", "")
	assert.Error(t, err)
}

package detectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/enricher"
	"github.com/archgraph/sentinel/internal/graph"
	"github.com/archgraph/sentinel/internal/querycache"
)

func TestComplexityDetector_ThresholdBehavior(t *testing.T) {
	d := NewComplexityDetector()
	cache := newCache()
	cache.Functions["pkg.Below"] = querycache.FunctionInfo{FilePath: "a.go", Complexity: 5}
	cache.Functions["pkg.AtThreshold"] = querycache.FunctionInfo{FilePath: "a.go", Complexity: 10}
	cache.Functions["pkg.Above"] = querycache.FunctionInfo{FilePath: "a.go", Complexity: 15}
	cache.Functions["pkg.WayAbove"] = querycache.FunctionInfo{FilePath: "a.go", Complexity: 25}

	dctx := &Context{RepoID: "repo-1", AnalysisRunID: "run-1", Cache: cache}
	findings, err := d.Detect(context.Background(), dctx)
	require.NoError(t, err)

	byID := map[string]Finding{}
	for _, f := range findings {
		byID[f.AffectedNodes[0]] = f
	}

	assert.NotContains(t, byID, "pkg.Below")
	assert.NotContains(t, byID, "pkg.AtThreshold") // strictly greater-than, not >=
	require.Contains(t, byID, "pkg.Above")
	assert.Equal(t, SeverityMedium, byID["pkg.Above"].Severity)
	require.Contains(t, byID, "pkg.WayAbove")
	assert.Equal(t, SeverityHigh, byID["pkg.WayAbove"].Severity)
}

func TestHubDependencyDetector_CountsOnlyFirstPartyFanIn(t *testing.T) {
	d := NewHubDependencyDetector()
	cache := newCache()
	cache.Files["hub.go"] = querycache.FileInfo{Language: "go"}
	cache.Files["notHub.go"] = querycache.FileInfo{Language: "go"}

	for i := 0; i < 5; i++ {
		importer := "importer" + string(rune('a'+i)) + ".go"
		cache.Imports[importer] = map[string]bool{"hub.go": true}
	}
	cache.Imports["single.go"] = map[string]bool{"notHub.go": true, "external_pkg": true}

	dctx := &Context{RepoID: "repo-1", AnalysisRunID: "run-1", Cache: cache}
	findings, err := d.Detect(context.Background(), dctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "hub.go", findings[0].AffectedFiles[0])
	assert.Equal(t, 5, findings[0].GraphContext["importer_count"])
}

func TestCallChainDepthDetector_FlagsDeepChainsAndIgnoresShallowOnes(t *testing.T) {
	d := NewCallChainDepthDetector()
	cache := newCache()

	// Build a linear chain of 9 call edges (10 functions, depth 9) starting at F0.
	chainLen := 9
	for i := 0; i < chainLen; i++ {
		from := nodeName(i)
		to := nodeName(i + 1)
		cache.Functions[from] = querycache.FunctionInfo{}
		cache.Calls[from] = map[string]bool{to: true}
	}
	cache.Functions[nodeName(chainLen)] = querycache.FunctionInfo{}

	// A short, independent chain that should never be flagged.
	cache.Functions["short.A"] = querycache.FunctionInfo{}
	cache.Functions["short.B"] = querycache.FunctionInfo{}
	cache.Calls["short.A"] = map[string]bool{"short.B": true}

	dctx := &Context{RepoID: "repo-1", AnalysisRunID: "run-1", Cache: cache}
	findings, err := d.Detect(context.Background(), dctx)
	require.NoError(t, err)

	var sawDeep bool
	for _, f := range findings {
		assert.NotEqual(t, "short.A", f.AffectedNodes[0])
		if f.AffectedNodes[0] == nodeName(0) {
			sawDeep = true
			assert.GreaterOrEqual(t, f.GraphContext["depth"].(int), d.DepthThreshold)
		}
	}
	assert.True(t, sawDeep, "expected the long chain's start node to be flagged")
}

func TestCallChainDepthDetector_CycleSafe(t *testing.T) {
	d := NewCallChainDepthDetector()
	cache := newCache()
	cache.Functions["a"] = querycache.FunctionInfo{}
	cache.Functions["b"] = querycache.FunctionInfo{}
	cache.Calls["a"] = map[string]bool{"b": true}
	cache.Calls["b"] = map[string]bool{"a": true} // cycle

	dctx := &Context{RepoID: "repo-1", AnalysisRunID: "run-1", Cache: cache}
	done := make(chan struct{})
	go func() {
		_, err := d.Detect(context.Background(), dctx)
		require.NoError(t, err)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: cycle likely caused infinite recursion")
	}
}

func TestGodClassDetector_ThresholdBehavior(t *testing.T) {
	d := NewGodClassDetector()
	cache := newCache()
	cache.Classes["pkg.Big"] = querycache.ClassInfo{FilePath: "big.go", LineStart: 1, LineEnd: 500}

	methods := make([]string, 25)
	for i := range methods {
		methods[i] = "pkg.Big.method" + string(rune('a'+i%26))
	}
	cache.MethodsByClass["pkg.Big"] = methods
	cache.MethodsByClass["pkg.Small"] = []string{"pkg.Small.method1"}

	dctx := &Context{RepoID: "repo-1", AnalysisRunID: "run-1", Cache: cache}
	findings, err := d.Detect(context.Background(), dctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "pkg.Big", findings[0].AffectedNodes[0])
	assert.Equal(t, []string{"big.go"}, findings[0].AffectedFiles)
}

func nodeName(i int) string {
	return "chain.F" + string(rune('0'+i))
}

func TestHotspotCorrelatorDetector_FlagsEntitiesFlaggedByMultipleDetectors(t *testing.T) {
	backend := &hotspotFakeBackend{flagsByEntity: map[string][]string{
		"pkg.Hot":  {"complexity", "hub_dependency"},
		"pkg.Cold": {"complexity"},
	}}
	enr := enricher.New(backend)

	d := NewHotspotCorrelatorDetector()
	dctx := &Context{
		RepoID:        "repo-1",
		AnalysisRunID: "run-1",
		Cache:         newCache(),
		Enricher:      enr,
		PreviousFindings: []Finding{
			{Detector: "complexity", AffectedNodes: []string{"pkg.Hot"}, EstimatedEffort: "medium"},
			{Detector: "complexity", AffectedNodes: []string{"pkg.Cold"}, EstimatedEffort: "low"},
		},
	}

	findings, err := d.Detect(context.Background(), dctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "pkg.Hot", findings[0].AffectedNodes[0])
	assert.Equal(t, SeverityHigh, findings[0].Severity)
}

func TestHotspotCorrelatorDetector_NoEnricherIsNoOp(t *testing.T) {
	d := NewHotspotCorrelatorDetector()
	dctx := &Context{RepoID: "repo-1", AnalysisRunID: "run-1", Cache: newCache()}
	findings, err := d.Detect(context.Background(), dctx)
	require.NoError(t, err)
	assert.Nil(t, findings)
}

// hotspotFakeBackend implements graph.Backend, answering only the
// FLAGGED_BY lookup GetEntityFlags issues; every other method is an
// unused no-op since this detector only reads flags back.
type hotspotFakeBackend struct {
	flagsByEntity map[string][]string
}

func (b *hotspotFakeBackend) ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	entityQN, _ := params["entityQN"].(string)
	detectors := b.flagsByEntity[entityQN]
	rows := make([]map[string]any, 0, len(detectors))
	for _, det := range detectors {
		rows = append(rows, map[string]any{
			"id": det + "-flag", "detector": det, "severity": "medium",
			"confidence": 0.7, "timestamp": "2026-01-01T00:00:00Z",
		})
	}
	return rows, nil
}
func (b *hotspotFakeBackend) BatchCreateNodes(ctx context.Context, entities []graph.Entity) error { return nil }
func (b *hotspotFakeBackend) BatchCreateRelationships(ctx context.Context, rels []graph.Relationship) error {
	return nil
}
func (b *hotspotFakeBackend) DeleteFileEntities(ctx context.Context, repoID, path string) (int, error) {
	return 0, nil
}
func (b *hotspotFakeBackend) DeleteRepository(ctx context.Context, repoID string) (int, error) {
	return 0, nil
}
func (b *hotspotFakeBackend) GetAllFilePaths(ctx context.Context, repoID string) ([]string, error) {
	return nil, nil
}
func (b *hotspotFakeBackend) GetFileMetadata(ctx context.Context, repoID, path string) (*graph.FileMetadata, error) {
	return nil, nil
}
func (b *hotspotFakeBackend) CreateIndexes(ctx context.Context) error { return nil }
func (b *hotspotFakeBackend) SupportsTemporalTypes() bool             { return true }
func (b *hotspotFakeBackend) SupportsConstraints() bool               { return true }
func (b *hotspotFakeBackend) SupportsFullTextIndex() bool             { return true }
func (b *hotspotFakeBackend) Close() error                            { return nil }

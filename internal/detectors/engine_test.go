package detectors

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/querycache"
)

type countingDetector struct {
	name      string
	needsPrev bool
	calls     *int32
	findings  []Finding
}

func (d *countingDetector) Name() string { return d.name }
func (d *countingDetector) NeedsPreviousFindings() bool { return d.needsPrev }
func (d *countingDetector) Severity(f Finding) Severity  { return f.Severity }
func (d *countingDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	atomic.AddInt32(d.calls, 1)
	return d.findings, nil
}

func newCache() *querycache.Cache {
	return &querycache.Cache{
		RepoID:         "repo-1",
		Functions:      map[string]querycache.FunctionInfo{},
		Classes:        map[string]querycache.ClassInfo{},
		Files:          map[string]querycache.FileInfo{},
		Calls:          map[string]map[string]bool{},
		CalledBy:       map[string]map[string]bool{},
		Inherits:       map[string]map[string]bool{},
		InheritedBy:    map[string]map[string]bool{},
		Imports:        map[string]map[string]bool{},
		MethodsByClass: map[string][]string{},
		ParentClass:    map[string]string{},
	}
}

func TestEngine_RunsPhase1ConcurrentlyAndPhase2Sequentially(t *testing.T) {
	var p1Calls, p2Calls int32

	p1 := &countingDetector{name: "p1a", calls: &p1Calls, findings: []Finding{{ID: "f1", Detector: "p1a"}}}
	p1b := &countingDetector{name: "p1b", calls: &p1Calls, findings: []Finding{{ID: "f2", Detector: "p1b"}}}
	p2 := &countingDetector{name: "p2a", needsPrev: true, calls: &p2Calls, findings: []Finding{{ID: "f3", Detector: "p2a"}}}

	engine := New(nil, 2, p1, p1b, p2)
	result, err := engine.Run(context.Background(), "repo-1", "run-1", newCache())
	require.NoError(t, err)

	assert.Equal(t, int32(2), p1Calls)
	assert.Equal(t, int32(1), p2Calls)
	assert.Len(t, result.Findings, 3)
	assert.False(t, result.Cancelled)
	assert.Equal(t, 2, result.Phase1Detectors)
	assert.Equal(t, 1, result.Phase2Detectors)
}

func TestEngine_FailingDetectorDoesNotAbortRun(t *testing.T) {
	var calls int32
	good := &countingDetector{name: "good", calls: &calls, findings: []Finding{{ID: "f1"}}}
	bad := &failingDetector{}

	engine := New(nil, 2, good, bad)
	result, err := engine.Run(context.Background(), "repo-1", "run-1", newCache())
	require.NoError(t, err)
	assert.Len(t, result.Findings, 1)
}

type failingDetector struct{}

func (d *failingDetector) Name() string                     { return "bad" }
func (d *failingDetector) NeedsPreviousFindings() bool       { return false }
func (d *failingDetector) Severity(f Finding) Severity       { return f.Severity }
func (d *failingDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	return nil, assert.AnError
}

func TestEngine_CancelledContextStopsSchedulingAndSkipsPhase2(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var p1Calls, p2Calls int32
	slow := &slowDetector{calls: &p1Calls, delay: 50 * time.Millisecond}
	p2 := &countingDetector{name: "p2a", needsPrev: true, calls: &p2Calls}

	engine := New(nil, 1, slow, p2)
	result, err := engine.Run(ctx, "repo-1", "run-1", newCache())
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, int32(0), p2Calls)
}

type slowDetector struct {
	calls *int32
	delay time.Duration
}

func (d *slowDetector) Name() string               { return "slow" }
func (d *slowDetector) NeedsPreviousFindings() bool { return false }
func (d *slowDetector) Severity(f Finding) Severity { return f.Severity }
func (d *slowDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	atomic.AddInt32(d.calls, 1)
	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
	}
	return nil, nil
}

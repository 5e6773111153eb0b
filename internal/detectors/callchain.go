package detectors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CallChainDepthDetector flags functions that start a call chain at least
// as deep as a threshold, bounded by depth_threshold=7/max_depth=20. It runs a
// longest-path search directly in Go over the Query Cache's calls index
// (DFS with cycle guarding), keeping the teacher's threshold/max-depth
// constants.
type CallChainDepthDetector struct {
	DepthThreshold int
	MaxDepth       int
}

// NewCallChainDepthDetector mirrors the teacher's default thresholds.
func NewCallChainDepthDetector() *CallChainDepthDetector {
	return &CallChainDepthDetector{DepthThreshold: 7, MaxDepth: 20}
}

func (d *CallChainDepthDetector) Name() string { return "call_chain_depth" }

func (d *CallChainDepthDetector) NeedsPreviousFindings() bool { return false }

func (d *CallChainDepthDetector) Severity(f Finding) Severity { return f.Severity }

func (d *CallChainDepthDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	var findings []Finding

	for start := range dctx.Cache.Functions {
		depth, path := longestChain(dctx.Cache.Calls, start, d.MaxDepth)
		if depth < d.DepthThreshold {
			continue
		}

		severity := SeverityMedium
		if depth >= d.DepthThreshold*2 {
			severity = SeverityHigh
		}

		finding := Finding{
			ID:            uuid.NewString(),
			Detector:      d.Name(),
			Severity:      severity,
			Title:         fmt.Sprintf("%s starts a call chain %d levels deep", start, depth),
			Description:   fmt.Sprintf("Calling %s cascades through %d levels of function calls before bottoming out, indicating tight coupling across many functions.", start, depth),
			AffectedNodes: append([]string{}, path...),
			SuggestedFix:  "Flatten the call chain or introduce a facade to reduce cross-module coupling.",
			EstimatedEffort: "medium",
			GraphContext: map[string]any{
				"depth":     depth,
				"threshold": d.DepthThreshold,
			},
		}
		findings = append(findings, finding)

		if dctx.Enricher != nil {
			dctx.Enricher.FlagEntity(ctx, dctx.RepoID, dctx.AnalysisRunID, start, d.Name(), string(severity),
				[]string{finding.Title}, 0.6, finding.GraphContext)
		}
	}

	return findings, nil
}

// longestChain does a depth-bounded DFS from start following the calls
// index, returning the longest simple path found (cycle-safe: a node
// already on the current path is never re-visited).
func longestChain(calls map[string]map[string]bool, start string, maxDepth int) (int, []string) {
	visiting := map[string]bool{start: true}
	bestDepth := 0
	var bestPath []string

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		if len(path) > bestDepth {
			bestDepth = len(path)
			bestPath = append([]string{}, path...)
		}
		if len(path) >= maxDepth {
			return
		}
		for callee := range calls[node] {
			if visiting[callee] {
				continue
			}
			visiting[callee] = true
			next := make([]string, len(path), len(path)+1)
			copy(next, path)
			dfs(callee, append(next, callee))
			delete(visiting, callee)
		}
	}

	dfs(start, []string{start})
	return bestDepth - 1, bestPath // depth counted in edges, not nodes
}

package detectors

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// HubDependencyDetector flags files with an unusually high import fan-in —
// a thin stand-in for the teacher's HubDependencyDetector, which ranks
// nodes by a weighted betweenness/PageRank score over the import graph.
// This detector uses plain in-degree instead of centrality metrics — the
// architectural signal (a file many others depend on is a change
// amplifier) is preserved, the graph-theoretic machinery is not.
type HubDependencyDetector struct {
	// MinImporters is the in-degree floor before a file is considered a hub.
	MinImporters int
}

// NewHubDependencyDetector returns a detector with a conservative default
// floor, loosely following the teacher's percentile_threshold=10 intent
// (a hub is a small, high-impact minority of files).
func NewHubDependencyDetector() *HubDependencyDetector {
	return &HubDependencyDetector{MinImporters: 5}
}

func (d *HubDependencyDetector) Name() string { return "hub_dependency" }

func (d *HubDependencyDetector) NeedsPreviousFindings() bool { return false }

func (d *HubDependencyDetector) Severity(f Finding) Severity { return f.Severity }

func (d *HubDependencyDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	var findings []Finding

	// Imports is keyed importer -> set(imported); invert it to fan-in
	// (imported -> count of importers) since that's the hub signal.
	fanIn := map[string]int{}
	for _, imported := range dctx.Cache.Imports {
		for target := range imported {
			if _, isFile := dctx.Cache.Files[target]; !isFile {
				continue // external/module import, not a first-party file hub
			}
			fanIn[target]++
		}
	}

	hubs := make([]string, 0, len(fanIn))
	for path, count := range fanIn {
		if count >= d.MinImporters {
			hubs = append(hubs, path)
		}
	}
	sort.Strings(hubs)

	for _, path := range hubs {
		count := fanIn[path]
		severity := SeverityMedium
		if count >= d.MinImporters*2 {
			severity = SeverityHigh
		}

		finding := Finding{
			ID:            uuid.NewString(),
			Detector:      d.Name(),
			Severity:      severity,
			Title:         fmt.Sprintf("%s is a dependency hub (%d importers)", path, count),
			Description:   fmt.Sprintf("%d files import %s directly; a change here has wide blast radius.", count, path),
			AffectedFiles: []string{path},
			SuggestedFix:  "Consider splitting this file's responsibilities so fewer files depend on the whole of it.",
			EstimatedEffort: "high",
			GraphContext: map[string]any{
				"importer_count": count,
				"threshold":      d.MinImporters,
			},
		}
		findings = append(findings, finding)

		if dctx.Enricher != nil {
			dctx.Enricher.FlagEntity(ctx, dctx.RepoID, dctx.AnalysisRunID, path, d.Name(), string(severity),
				[]string{finding.Title}, 0.7, finding.GraphContext)
		}
	}

	return findings, nil
}

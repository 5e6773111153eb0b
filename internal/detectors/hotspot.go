package detectors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// HotspotCorrelatorDetector is a Phase-2 collaborator: a hotspot
// detector that amplifies complexity findings on files also flagged for
// churn. This graph carries no churn signal (commit history is out of
// scope), so the correlator instead amplifies severity for any entity
// multiple Phase-1 detectors
// independently flagged — the Graph Enricher's own duplicate-findings
// signal (`getDuplicateFindings`/`findHotspots`), which is schema-neutral
// and needs no churn data to be meaningful.
type HotspotCorrelatorDetector struct {
	MinDetectors int
}

// NewHotspotCorrelatorDetector requires at least two distinct Phase-1
// detectors to have flagged the same entity before correlating.
func NewHotspotCorrelatorDetector() *HotspotCorrelatorDetector {
	return &HotspotCorrelatorDetector{MinDetectors: 2}
}

func (d *HotspotCorrelatorDetector) Name() string { return "hotspot_correlator" }

func (d *HotspotCorrelatorDetector) NeedsPreviousFindings() bool { return true }

func (d *HotspotCorrelatorDetector) Severity(f Finding) Severity { return f.Severity }

func (d *HotspotCorrelatorDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	if dctx.Enricher == nil {
		return nil, nil
	}

	byEntity := map[string][]Finding{}
	for _, f := range dctx.PreviousFindings {
		for _, node := range f.AffectedNodes {
			byEntity[node] = append(byEntity[node], f)
		}
		for _, path := range f.AffectedFiles {
			byEntity[path] = append(byEntity[path], f)
		}
	}

	var findings []Finding
	for entityQN, priorFindings := range byEntity {
		isDup, flags, err := dctx.Enricher.GetDuplicateFindings(ctx, dctx.RepoID, entityQN, d.MinDetectors)
		if err != nil || !isDup {
			continue
		}

		detectorNames := map[string]bool{}
		for _, f := range flags {
			detectorNames[f.Detector] = true
		}

		finding := Finding{
			ID:          uuid.NewString(),
			Detector:    d.Name(),
			Severity:    SeverityHigh,
			Title:       fmt.Sprintf("%s is a multi-detector hotspot", entityQN),
			Description: fmt.Sprintf("%s was independently flagged by %d detectors; treat it as a priority refactor target.", entityQN, len(detectorNames)),
			AffectedNodes: []string{entityQN},
			SuggestedFix:   "Prioritize this entity above single-detector findings of similar severity.",
			EstimatedEffort: priorFindings[0].EstimatedEffort,
			GraphContext: map[string]any{
				"distinct_detectors": len(detectorNames),
			},
			CollaborationMetadata: []CollaborationMetadata{
				{Detector: d.Name(), Confidence: 0.8, Tags: detectorNameList(detectorNames)},
			},
		}
		findings = append(findings, finding)
	}

	return findings, nil
}

func detectorNameList(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}

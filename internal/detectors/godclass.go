package detectors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GodClassDetector flags classes with an unusually large method count —
// a thin stand-in for the teacher's LayeredArchitectureDetector family of
// structural-smell detectors, scoped down to a single, easily-graphed
// signal rather than full statistical fidelity.
type GodClassDetector struct {
	MaxMethods int
}

// NewGodClassDetector returns a detector with a conventional "god class"
// threshold.
func NewGodClassDetector() *GodClassDetector {
	return &GodClassDetector{MaxMethods: 20}
}

func (d *GodClassDetector) Name() string { return "god_class" }

func (d *GodClassDetector) NeedsPreviousFindings() bool { return false }

func (d *GodClassDetector) Severity(f Finding) Severity { return f.Severity }

func (d *GodClassDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	var findings []Finding

	for classQN, methods := range dctx.Cache.MethodsByClass {
		if len(methods) <= d.MaxMethods {
			continue
		}

		cls, known := dctx.Cache.Classes[classQN]
		severity := SeverityMedium
		if len(methods) > d.MaxMethods*2 {
			severity = SeverityHigh
		}

		finding := Finding{
			ID:            uuid.NewString(),
			Detector:      d.Name(),
			Severity:      severity,
			Title:         fmt.Sprintf("%s has %d methods", classQN, len(methods)),
			Description:   fmt.Sprintf("Class %s defines %d methods, exceeding the threshold of %d; it likely has too many responsibilities.", classQN, len(methods), d.MaxMethods),
			AffectedNodes: append([]string{classQN}, methods...),
			SuggestedFix:  "Split responsibilities into smaller, cohesive classes.",
			EstimatedEffort: "high",
			GraphContext: map[string]any{
				"method_count": len(methods),
				"threshold":    d.MaxMethods,
			},
		}
		if known {
			finding.AffectedFiles = []string{cls.FilePath}
			finding.LineStart = intPtr(cls.LineStart)
			finding.LineEnd = intPtr(cls.LineEnd)
		}
		findings = append(findings, finding)

		if dctx.Enricher != nil {
			dctx.Enricher.FlagEntity(ctx, dctx.RepoID, dctx.AnalysisRunID, classQN, d.Name(), string(severity),
				[]string{finding.Title}, 0.65, finding.GraphContext)
		}
	}

	return findings, nil
}

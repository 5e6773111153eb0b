package detectors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ComplexityDetector flags functions whose cyclomatic complexity exceeds a
// threshold — a thin, Phase-1 stand-in for the teacher's
// TechnicalDebtHotspotDetector, which combines churn and complexity; this
// graph carries no churn signal, so the detector only covers the
// complexity half of that analysis, deliberately without statistical
// calibration.
type ComplexityDetector struct {
	Threshold int
}

// NewComplexityDetector returns a detector with the teacher's default
// complexity threshold, rounded to an integer cyclomatic-complexity count.
func NewComplexityDetector() *ComplexityDetector {
	return &ComplexityDetector{Threshold: 10}
}

func (d *ComplexityDetector) Name() string { return "complexity" }

func (d *ComplexityDetector) NeedsPreviousFindings() bool { return false }

func (d *ComplexityDetector) Severity(f Finding) Severity { return f.Severity }

func (d *ComplexityDetector) Detect(ctx context.Context, dctx *Context) ([]Finding, error) {
	var findings []Finding

	for qn, fn := range dctx.Cache.Functions {
		if fn.Complexity <= d.Threshold {
			continue
		}

		severity := SeverityMedium
		if fn.Complexity > d.Threshold*2 {
			severity = SeverityHigh
		}

		finding := Finding{
			ID:            uuid.NewString(),
			Detector:      d.Name(),
			Severity:      severity,
			Title:         fmt.Sprintf("%s has high cyclomatic complexity (%d)", qn, fn.Complexity),
			Description:   fmt.Sprintf("Function %s has cyclomatic complexity %d, exceeding the threshold of %d.", qn, fn.Complexity, d.Threshold),
			AffectedNodes: []string{qn},
			AffectedFiles: []string{fn.FilePath},
			LineStart:     intPtr(fn.LineStart),
			LineEnd:       intPtr(fn.LineEnd),
			SuggestedFix:  "Break the function into smaller, single-purpose functions.",
			EstimatedEffort: "medium",
			GraphContext: map[string]any{
				"complexity": fn.Complexity,
				"threshold":  d.Threshold,
			},
		}
		findings = append(findings, finding)

		if dctx.Enricher != nil {
			dctx.Enricher.FlagEntity(ctx, dctx.RepoID, dctx.AnalysisRunID, qn, d.Name(), string(severity),
				[]string{finding.Title}, confidenceForComplexity(fn.Complexity, d.Threshold), finding.GraphContext)
		}
	}

	return findings, nil
}

func confidenceForComplexity(complexity, threshold int) float64 {
	if threshold <= 0 {
		return 0.5
	}
	ratio := float64(complexity) / float64(threshold)
	if ratio > 1.5 {
		return 0.9
	}
	return 0.7
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

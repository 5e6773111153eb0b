// Package detectors implements the Detector Engine (C8): a small
// capability interface plus a two-phase parallel/sequential scheduler,
// generalizing the teacher's internal/risk/agents.Agent interface
// (Name/Analyze/Priority) and internal/risk/chain_orchestrator.go's
// sequential chain into a Phase-1-parallel/Phase-2-sequential shape.
package detectors

import (
	"context"

	"github.com/archgraph/sentinel/internal/enricher"
	"github.com/archgraph/sentinel/internal/querycache"
)

// Severity is a fixed, ordinal finding severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// CollaborationMetadata lets a detector attach cross-detector evidence to
// a Finding without the Detector Engine needing to understand it.
type CollaborationMetadata struct {
	Detector   string
	Confidence float64
	Evidence   []string
	Tags       []string
}

// Finding is one detector's output unit.
type Finding struct {
	ID                     string
	Detector               string
	Severity               Severity
	Title                  string
	Description            string
	AffectedNodes          []string
	AffectedFiles          []string
	LineStart              *int
	LineEnd                *int
	SuggestedFix           string
	EstimatedEffort        string
	GraphContext           map[string]any
	CollaborationMetadata  []CollaborationMetadata
}

// Context is what a Detector's Detect call is given: the materialized
// Query Cache for O(1) lookups, the Enricher for collaboration writes,
// and — in Phase 2 only — the aggregate findings Phase 1 produced.
type Context struct {
	RepoID           string
	AnalysisRunID    string
	Cache            *querycache.Cache
	Enricher         *enricher.Enricher
	PreviousFindings []Finding
}

// Detector is any object satisfying the Detector Engine's capability interface.
type Detector interface {
	// Name identifies the detector for logging, collaboration evidence,
	// and FLAGGED_BY edges.
	Name() string

	// Detect runs the analysis and returns its findings. Implementations
	// that want Phase-1 collaboration call ctx.Enricher.FlagEntity while
	// building each finding.
	Detect(ctx context.Context, dctx *Context) ([]Finding, error)

	// Severity classifies a finding this detector produced. Most
	// detectors just return f.Severity (the value they set when building
	// it); the method exists as its own interface member so the engine
	// never has to assume every detector pre-commits to a
	// severity at construction time.
	Severity(f Finding) Severity

	// NeedsPreviousFindings is the capability flag deciding which
	// scheduling phase this detector runs in.
	NeedsPreviousFindings() bool
}

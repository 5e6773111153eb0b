package store

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/archgraph/sentinel/internal/detectors"
)

// FromDetectorFinding converts one detectors.Finding into its persisted
// row shape, merging AffectedNodes/AffectedFiles into the single Files
// column and JSON-encoding the two structured fields.
func FromDetectorFinding(runID string, f detectors.Finding) *Finding {
	files := append([]string{}, f.AffectedFiles...)
	files = append(files, f.AffectedNodes...)

	collabJSON, err := json.Marshal(f.CollaborationMetadata)
	if err != nil {
		collabJSON = []byte("[]")
	}

	return &Finding{
		ID:               f.ID,
		AnalysisRunID:    runID,
		Detector:         f.Detector,
		Severity:         string(f.Severity),
		Title:            f.Title,
		Description:      f.Description,
		Files:            files,
		LineStart:        f.LineStart,
		LineEnd:          f.LineEnd,
		SuggestedFix:     f.SuggestedFix,
		EstimatedEffort:  f.EstimatedEffort,
		GraphContextJSON: jsonOrEmpty(f.GraphContext),
		CollabMetaJSON:   string(collabJSON),
	}
}

// NewAnalysisRunID generates a fresh AnalysisRun ID.
func NewAnalysisRunID() string { return uuid.NewString() }

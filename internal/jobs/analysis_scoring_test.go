package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archgraph/sentinel/internal/detectors"
)

func TestSeverityPenalty(t *testing.T) {
	assert.Equal(t, 8.0, severityPenalty(detectors.SeverityCritical))
	assert.Equal(t, 5.0, severityPenalty(detectors.SeverityHigh))
	assert.Equal(t, 2.0, severityPenalty(detectors.SeverityMedium))
	assert.Equal(t, 1.0, severityPenalty(detectors.SeverityLow))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-5))
	assert.Equal(t, 100.0, clampScore(150))
	assert.Equal(t, 42.0, clampScore(42))
}

func TestComputeScores_NoFindingsIsPerfect(t *testing.T) {
	s := computeScores(nil)
	assert.Equal(t, scoreSet{Health: 100, Structure: 100, Quality: 100, Architecture: 100}, s)
}

func TestComputeScores_RoutesPenaltyByDetector(t *testing.T) {
	findings := []detectors.Finding{
		{Detector: "god_class", Severity: detectors.SeverityCritical},
		{Detector: "hub_dependency", Severity: detectors.SeverityHigh},
		{Detector: "call_chain_depth", Severity: detectors.SeverityMedium},
		{Detector: "complexity", Severity: detectors.SeverityLow},
	}
	s := computeScores(findings)

	assert.Equal(t, float64(100-8-5), s.Architecture)
	assert.Equal(t, float64(100-2), s.Structure)
	assert.Equal(t, float64(100-1), s.Quality)
	assert.InDelta(t, (s.Structure+s.Quality+s.Architecture)/3, s.Health, 0.0001)
}

func TestComputeScores_FloorsAtZero(t *testing.T) {
	findings := make([]detectors.Finding, 30)
	for i := range findings {
		findings[i] = detectors.Finding{Detector: "complexity", Severity: detectors.SeverityCritical}
	}
	s := computeScores(findings)
	assert.Equal(t, 0.0, s.Quality)
}

package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/archgraph/sentinel/internal/github"
	"github.com/archgraph/sentinel/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func TestCheckRunConclusion(t *testing.T) {
	cases := []struct {
		name     string
		run      *store.AnalysisRun
		findings []*store.Finding
		want     github.CheckConclusion
	}{
		{
			name: "critical finding always fails",
			run:  &store.AnalysisRun{HealthScore: floatPtr(95)},
			findings: []*store.Finding{
				{Severity: "critical"},
			},
			want: github.ConclusionFailure,
		},
		{
			name: "low score fails even with no critical findings",
			run:  &store.AnalysisRun{HealthScore: floatPtr(50)},
			want: github.ConclusionFailure,
		},
		{
			name: "middling score warns",
			run:  &store.AnalysisRun{HealthScore: floatPtr(80)},
			want: github.ConclusionNeutral,
		},
		{
			name: "high score passes clean",
			run:  &store.AnalysisRun{HealthScore: floatPtr(95)},
			want: github.ConclusionSuccess,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, title, summary := checkRunConclusion(tc.run, tc.findings)
			assert.Equal(t, tc.want, got)
			assert.NotEmpty(t, title)
			assert.NotEmpty(t, summary)
		})
	}
}

func TestFormatPRComment(t *testing.T) {
	run := &store.AnalysisRun{
		HealthScore:    floatPtr(88),
		ScoreDelta:     floatPtr(-2.5),
		StructureScore: floatPtr(90),
	}
	findings := []*store.Finding{
		{Severity: "high", Detector: "complexity", Title: "deeply nested function"},
		{Severity: "medium", Detector: "god_class", Title: "large struct"},
	}

	body := formatPRComment(run, findings, "https://example.com/report/1")

	assert.Contains(t, body, "88/100")
	assert.Contains(t, body, "-2.5")
	assert.Contains(t, body, "deeply nested function")
	assert.Contains(t, body, "https://example.com/report/1")
	assert.Contains(t, body, "2 finding(s)")
}

func TestSignPayload_IsDeterministicAndKeyed(t *testing.T) {
	body := []byte(`{"event":"analysis.complete"}`)

	sig1 := signPayload("secret-a", body)
	sig2 := signPayload("secret-a", body)
	sig3 := signPayload("secret-b", body)

	assert.Equal(t, sig1, sig2)
	assert.NotEqual(t, sig1, sig3)
	assert.Contains(t, sig1, "sha256=")
}

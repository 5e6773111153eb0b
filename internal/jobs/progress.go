package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/archgraph/sentinel/internal/store"
)

// progressFlushInterval caps how often an analysis job's progress is
// written to the store, to avoid storm writes — the same rate-limiting
// idiom the teacher applies to its GitHub API calls
// (internal/github/client.go), here applied to writes instead of
// outbound requests.
const progressFlushInterval = 500 * time.Millisecond

// progressReporter throttles AnalysisRun progress writes for one run.
type progressReporter struct {
	st          store.Store
	runID       string
	mu          sync.Mutex
	last        time.Time
	lastPercent int
	lastStep    string
	logger      *slog.Logger
}

func newProgressReporter(st store.Store, runID string) *progressReporter {
	return &progressReporter{st: st, runID: runID, lastPercent: -1, logger: slog.Default().With("component", "jobs.progress")}
}

// update writes percent/step if at least progressFlushInterval has
// elapsed since the last write, or force is true (always flush the
// first and last update of a run). A call that repeats the exact same
// percent/step as the last write is skipped regardless of force, since
// nothing changed to report.
func (p *progressReporter) update(ctx context.Context, percent int, step string, force bool) {
	p.mu.Lock()
	unchanged := percent == p.lastPercent && step == p.lastStep
	due := !unchanged && (force || time.Since(p.last) >= progressFlushInterval)
	if due {
		p.last = time.Now()
		p.lastPercent = percent
		p.lastStep = step
	}
	p.mu.Unlock()

	if !due {
		return
	}

	if err := p.st.UpdateProgress(ctx, p.runID, percent, step); err != nil {
		p.logger.Warn("progress update failed", "run_id", p.runID, "error", err)
	}
}

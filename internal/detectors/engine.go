package detectors

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/archgraph/sentinel/internal/enricher"
	"github.com/archgraph/sentinel/internal/querycache"
)

// DefaultMaxWorkers caps the Phase 1 bounded worker pool at the host's CPU
// count.
func DefaultMaxWorkers() int { return runtime.NumCPU() }

// Result is the engine's aggregate output for one analysis run.
type Result struct {
	Findings         []Finding
	Phase1Detectors  int
	Phase2Detectors  int
	Cancelled        bool
}

// Engine schedules Phase 1 (parallel, independent) and Phase 2
// (sequential, findings-aware) detectors over a shared Query Cache.
type Engine struct {
	phase1     []Detector
	phase2     []Detector
	enricher   *enricher.Enricher
	maxWorkers int
	logger     *logrus.Logger
}

// New builds an Engine from a detector list, partitioning by
// NeedsPreviousFindings. maxWorkers <= 0 falls back to DefaultMaxWorkers().
func New(enr *enricher.Enricher, maxWorkers int, dets ...Detector) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers()
	}

	e := &Engine{enricher: enr, maxWorkers: maxWorkers, logger: logrus.StandardLogger()}
	for _, d := range dets {
		if d.NeedsPreviousFindings() {
			e.phase2 = append(e.phase2, d)
		} else {
			e.phase1 = append(e.phase1, d)
		}
	}
	return e
}

// Run executes the two-phase scheduler. It calls
// enricher.CleanupMetadata at the start of the run to guarantee a clean
// slate, then Phase 1 detectors concurrently (bounded worker pool) and
// Phase 2 detectors sequentially, each seeing the prior phase's
// accumulated findings. If ctx is cancelled (the Job Runner's soft time
// limit), scheduling of new detectors stops and findings
// accumulated so far are returned with Cancelled=true instead of an error.
func (e *Engine) Run(ctx context.Context, repoID, analysisRunID string, cache *querycache.Cache) (*Result, error) {
	log := e.logger.WithFields(logrus.Fields{"repo_id": repoID, "analysis_run_id": analysisRunID})

	if e.enricher != nil {
		if err := e.enricher.CleanupMetadata(ctx, repoID, ""); err != nil {
			return nil, fmt.Errorf("cleanup metadata before run: %w", err)
		}
	}

	dctx := &Context{RepoID: repoID, AnalysisRunID: analysisRunID, Cache: cache, Enricher: e.enricher}

	result := &Result{Phase1Detectors: len(e.phase1), Phase2Detectors: len(e.phase2)}

	phase1Findings, cancelled, err := e.runPhase1(ctx, dctx)
	if err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}
	result.Findings = append(result.Findings, phase1Findings...)
	result.Cancelled = cancelled

	if cancelled {
		log.Warn("analysis cancelled before phase 2 started")
		return result, nil
	}

	dctx.PreviousFindings = phase1Findings

	phase2Findings, cancelled := e.runPhase2(ctx, dctx)
	result.Findings = append(result.Findings, phase2Findings...)
	result.Cancelled = result.Cancelled || cancelled

	log.WithFields(logrus.Fields{
		"findings":  len(result.Findings),
		"cancelled": result.Cancelled,
	}).Info("detector engine run complete")

	return result, nil
}

func (e *Engine) runPhase1(ctx context.Context, dctx *Context) ([]Finding, bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	var mu sync.Mutex
	var findings []Finding
	cancelled := false

	for _, d := range e.phase1 {
		d := d

		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		g.Go(func() error {
			fs, err := d.Detect(gctx, dctx)
			if err != nil {
				e.logger.WithField("detector", d.Name()).WithError(err).Warn("phase 1 detector failed, continuing without its findings")
				return nil
			}
			mu.Lock()
			findings = append(findings, fs...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return findings, cancelled, err
	}

	select {
	case <-ctx.Done():
		cancelled = true
	default:
	}

	return findings, cancelled, nil
}

func (e *Engine) runPhase2(ctx context.Context, dctx *Context) ([]Finding, bool) {
	var findings []Finding

	for _, d := range e.phase2 {
		select {
		case <-ctx.Done():
			return findings, true
		default:
		}

		fs, err := d.Detect(ctx, dctx)
		if err != nil {
			e.logger.WithField("detector", d.Name()).WithError(err).Warn("phase 2 detector failed, continuing without its findings")
			continue
		}
		findings = append(findings, fs...)
		dctx.PreviousFindings = append(dctx.PreviousFindings, fs...)
	}

	return findings, false
}

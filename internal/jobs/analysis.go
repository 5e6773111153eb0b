package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/archgraph/sentinel/internal/detectors"
	"github.com/archgraph/sentinel/internal/enricher"
	"github.com/archgraph/sentinel/internal/git"
	"github.com/archgraph/sentinel/internal/ingestion"
	"github.com/archgraph/sentinel/internal/parserbridge"
	"github.com/archgraph/sentinel/internal/querycache"
	"github.com/archgraph/sentinel/internal/store"
	"github.com/archgraph/sentinel/internal/tenant"
)

// AnalysisDeps bundles the collaborators an analysis job needs: the
// persisted-state store (C9 prerequisite), the tenant factory (C2), a
// clone base directory, and the parser registry the Ingestion Pipeline
// (C5) dispatches to.
type AnalysisDeps struct {
	Store     store.Store
	Tenants   *tenant.Factory
	CloneBase string
	Registry  *parserbridge.Registry
	Queue     *Queue
	Logger    *logrus.Logger
}

func (d *AnalysisDeps) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logrus.StandardLogger()
}

func defaultDetectors() []detectors.Detector {
	return []detectors.Detector{
		detectors.NewComplexityDetector(),
		detectors.NewHubDependencyDetector(),
		detectors.NewCallChainDepthDetector(),
		detectors.NewGodClassDetector(),
		detectors.NewHotspotCorrelatorDetector(),
	}
}

// runAnalysisCore implements the analysis job's execution skeleton,
// shared by analyzeRepository/analyzeRepositoryPriority and (for the
// parts that apply) analyzePR.
func runAnalysisCore(ctx context.Context, deps *AnalysisDeps, runID, orgID, orgSlug, repoID, repoSlug, cloneURL, commitSHA string, incremental bool) (*detectors.Result, *ingestion.Result, error) {
	log := deps.logger().WithFields(logrus.Fields{"analysis_run_id": runID, "repo_id": repoID})
	progress := newProgressReporter(deps.Store, runID)

	// Step 1: mark running.
	progress.update(ctx, 5, "cloning repository", true)

	// Step 2: clone at the requested commit, always cleaned up on exit.
	cloneDir := filepath.Join(deps.CloneBase, uuid.NewString())
	if err := os.MkdirAll(cloneDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create clone dir: %w", err)
	}
	defer os.RemoveAll(cloneDir)

	if err := git.Clone(ctx, cloneURL, cloneDir, commitSHA); err != nil {
		return nil, nil, fmt.Errorf("clone repository: %w", err)
	}

	// Step 3: obtain a tenant client from C2.
	progress.update(ctx, 15, "provisioning tenant graph", true)
	tn, err := deps.Tenants.GetClient(ctx, orgID, orgSlug)
	if err != nil {
		return nil, nil, fmt.Errorf("obtain tenant client: %w", err)
	}

	// Step 4: run the Ingestion Pipeline, incremental by default.
	progress.update(ctx, 20, "building knowledge graph", true)
	pipeline := ingestion.New(deps.Registry, deps.logger())

	lastPct := 20
	ingestResult, err := pipeline.Run(ctx, ingestion.Input{
		Root:        cloneDir,
		Backend:     tn.Backend,
		RepoID:      repoID,
		RepoSlug:    repoSlug,
		Incremental: incremental,
		Progress: func(current, total int, filename string) {
			if total <= 0 {
				return
			}
			pct := 20 + int(float64(current)/float64(total)*40.0)
			if pct > lastPct {
				lastPct = pct
			}
			progress.update(ctx, lastPct, "building knowledge graph", false)
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("run ingestion pipeline: %w", err)
	}

	// Step 5: run the Detector Engine against the tenant graph.
	progress.update(ctx, 60, "analyzing code health", true)
	cache, err := querycache.Materialize(ctx, tn.Backend, repoID)
	if err != nil {
		return nil, nil, fmt.Errorf("materialize query cache: %w", err)
	}

	enr := enricher.New(tn.Backend)
	engine := detectors.New(enr, detectors.DefaultMaxWorkers(), defaultDetectors()...)
	result, err := engine.Run(ctx, repoID, runID, cache)
	if err != nil {
		return nil, nil, fmt.Errorf("run detector engine: %w", err)
	}

	log.WithField("findings", len(result.Findings)).Info("detector engine finished")
	progress.update(ctx, 90, "saving results", true)

	return result, ingestResult, nil
}

// RunAnalyzeRepository implements the analyzeRepository/
// analyzeRepositoryPriority job kinds (they share a handler, only the
// queue they run on differs).
func RunAnalyzeRepository(ctx context.Context, deps *AnalysisDeps, raw json.RawMessage) error {
	var p AnalyzeRepositoryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if _, err := deps.Store.GetAnalysisRun(ctx, p.AnalysisRunID); err != nil {
		return fmt.Errorf("load analysis run: %w", err)
	}
	if err := deps.Store.MarkRunning(ctx, p.AnalysisRunID); err != nil {
		return fmt.Errorf("mark analysis run running: %w", err)
	}

	result, ingestResult, err := runAnalysisCore(ctx, deps, p.AnalysisRunID, p.OrgID, p.OrgSlug, p.RepoID, p.RepoSlug, p.CloneURL, p.CommitSHA, p.Incremental)
	if err != nil {
		failErr := deps.Store.FailAnalysisRun(ctx, p.AnalysisRunID, err.Error())
		if failErr != nil {
			deps.logger().WithError(failErr).Error("failed to record analysis failure")
		}
		if _, enqErr := deps.Queue.Enqueue(ctx, KindOnFailed, OnFailedPayload{
			AnalysisRunID: p.AnalysisRunID, RepoID: p.RepoID, ErrorMessage: err.Error(),
		}); enqErr != nil {
			deps.logger().WithError(enqErr).Error("failed to enqueue onFailed hook")
		}
		return err
	}

	scores := computeScores(result.Findings)
	findingRows := make([]*store.Finding, 0, len(result.Findings))
	for _, f := range result.Findings {
		findingRows = append(findingRows, store.FromDetectorFinding(p.AnalysisRunID, f))
	}
	if err := deps.Store.SaveFindings(ctx, findingRows); err != nil {
		return fmt.Errorf("save findings: %w", err)
	}

	if err := deps.Store.CompleteAnalysisRun(ctx, p.AnalysisRunID,
		scores.Health, scores.Structure, scores.Quality, scores.Architecture,
		len(result.Findings), ingestResult.FilesNew+ingestResult.FilesChanged+ingestResult.FilesUnchanged,
	); err != nil {
		return fmt.Errorf("complete analysis run: %w", err)
	}

	if _, err := deps.Queue.Enqueue(ctx, KindOnComplete, OnCompletePayload{
		AnalysisRunID: p.AnalysisRunID, RepoID: p.RepoID, RegressionThreshold: 10,
	}); err != nil {
		deps.logger().WithError(err).Error("failed to enqueue onComplete hook")
	}

	return nil
}

// RunAnalyzePR implements the analyzePR job kind: same ingest/detect
// pipeline as RunAnalyzeRepository, run incrementally against the PR's
// head commit, but finishing by enqueueing a check-run update and PR
// comment instead of the onComplete hook (a PR has no prior baseline
// in the same sense a tracked default-branch repo does).
func RunAnalyzePR(ctx context.Context, deps *AnalysisDeps, raw json.RawMessage) error {
	var p AnalyzePRPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if _, err := deps.Store.GetAnalysisRun(ctx, p.AnalysisRunID); err != nil {
		return fmt.Errorf("load analysis run: %w", err)
	}
	if err := deps.Store.MarkRunning(ctx, p.AnalysisRunID); err != nil {
		return fmt.Errorf("mark analysis run running: %w", err)
	}

	result, ingestResult, err := runAnalysisCore(ctx, deps, p.AnalysisRunID, p.OrgID, p.OrgSlug, p.RepoID, p.RepoSlug, p.CloneURL, p.HeadSHA, true)
	if err != nil {
		failErr := deps.Store.FailAnalysisRun(ctx, p.AnalysisRunID, err.Error())
		if failErr != nil {
			deps.logger().WithError(failErr).Error("failed to record analysis failure")
		}
		if _, enqErr := deps.Queue.Enqueue(ctx, KindOnFailed, OnFailedPayload{
			AnalysisRunID: p.AnalysisRunID, RepoID: p.RepoID, ErrorMessage: err.Error(),
		}); enqErr != nil {
			deps.logger().WithError(enqErr).Error("failed to enqueue onFailed hook")
		}
		return err
	}

	scores := computeScores(result.Findings)
	findingRows := make([]*store.Finding, 0, len(result.Findings))
	for _, f := range result.Findings {
		findingRows = append(findingRows, store.FromDetectorFinding(p.AnalysisRunID, f))
	}
	if err := deps.Store.SaveFindings(ctx, findingRows); err != nil {
		return fmt.Errorf("save findings: %w", err)
	}

	if err := deps.Store.CompleteAnalysisRun(ctx, p.AnalysisRunID,
		scores.Health, scores.Structure, scores.Quality, scores.Architecture,
		len(result.Findings), ingestResult.FilesNew+ingestResult.FilesChanged+ingestResult.FilesUnchanged,
	); err != nil {
		return fmt.Errorf("complete analysis run: %w", err)
	}

	if _, err := deps.Queue.Enqueue(ctx, KindPostCheckRun, PostCheckRunPayload{
		AnalysisRunID: p.AnalysisRunID, Owner: p.Owner, RepoName: p.RepoName, CommitSHA: p.HeadSHA,
	}); err != nil {
		deps.logger().WithError(err).Error("failed to enqueue postCheckRun hook")
	}
	if _, err := deps.Queue.Enqueue(ctx, KindPostPRComment, PostPRCommentPayload{
		AnalysisRunID: p.AnalysisRunID, Owner: p.Owner, RepoName: p.RepoName, PRNumber: p.PRNumber,
	}); err != nil {
		deps.logger().WithError(err).Error("failed to enqueue postPRComment hook")
	}

	return nil
}

// scoreSet is the four-score tuple persisted alongside an analysis run.
type scoreSet struct {
	Health, Structure, Quality, Architecture float64
}

// computeScores derives the overall + per-category scores from a
// findings list. This is deliberately a thin severity-weighted penalty
// model, not a statistically calibrated one — each finding knocks its
// category down by an amount scaled to severity, floored at 0.
func computeScores(findings []detectors.Finding) scoreSet {
	s := scoreSet{Health: 100, Structure: 100, Quality: 100, Architecture: 100}

	for _, f := range findings {
		penalty := severityPenalty(f.Severity)
		switch f.Detector {
		case "god_class", "hub_dependency":
			s.Architecture -= penalty
		case "call_chain_depth":
			s.Structure -= penalty
		default:
			s.Quality -= penalty
		}
	}

	s.Structure = clampScore(s.Structure)
	s.Quality = clampScore(s.Quality)
	s.Architecture = clampScore(s.Architecture)
	s.Health = clampScore((s.Structure + s.Quality + s.Architecture) / 3)

	return s
}

func severityPenalty(sev detectors.Severity) float64 {
	switch sev {
	case detectors.SeverityCritical:
		return 8
	case detectors.SeverityHigh:
		return 5
	case detectors.SeverityMedium:
		return 2
	default:
		return 1
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

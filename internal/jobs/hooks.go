package jobs

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/archgraph/sentinel/internal/github"
	"github.com/archgraph/sentinel/internal/store"
)

// defaultRegressionThreshold mirrors the teacher's hooks.py default of
// 10 health-score points when an org hasn't configured its own.
const defaultRegressionThreshold = 10.0

// Notifier delivers the owner-facing notifications the onComplete/
// onFailed hooks trigger. This module has no email/paging provider
// anywhere in its dependency corpus (see DESIGN.md), so the default
// implementation below logs structurally rather than sending mail —
// callers embedding this in a real deployment swap in their own
// Notifier.
type Notifier interface {
	NotifyRegression(ctx context.Context, repoID string, oldScore, newScore, drop float64) error
	NotifyComplete(ctx context.Context, repoID string, healthScore float64) error
	NotifyFailure(ctx context.Context, repoID, errMessage string) error
}

// LogNotifier is the default Notifier, logging at the severity a human
// operator would want paged on.
type LogNotifier struct{ Logger *logrus.Logger }

func (n *LogNotifier) log() *logrus.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return logrus.StandardLogger()
}

func (n *LogNotifier) NotifyRegression(ctx context.Context, repoID string, oldScore, newScore, drop float64) error {
	n.log().WithFields(logrus.Fields{"repo_id": repoID, "old_score": oldScore, "new_score": newScore, "drop": drop}).
		Warn("health score regression alert")
	return nil
}

func (n *LogNotifier) NotifyComplete(ctx context.Context, repoID string, healthScore float64) error {
	n.log().WithFields(logrus.Fields{"repo_id": repoID, "health_score": healthScore}).Info("analysis complete notification")
	return nil
}

func (n *LogNotifier) NotifyFailure(ctx context.Context, repoID, errMessage string) error {
	n.log().WithFields(logrus.Fields{"repo_id": repoID, "error": errMessage}).Error("analysis failed notification")
	return nil
}

// HookDeps bundles what the five hook handlers need.
type HookDeps struct {
	Store      store.Store
	GitHub     *github.Client
	Notifier   Notifier
	HTTPClient *http.Client
	AppBaseURL string
	Logger     *logrus.Logger
}

func (d *HookDeps) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logrus.StandardLogger()
}

func (d *HookDeps) notifier() Notifier {
	if d.Notifier != nil {
		return d.Notifier
	}
	return &LogNotifier{Logger: d.logger()}
}

// RunOnComplete implements the onComplete hook: compare against the
// most recent prior completed run for the same repo; above-threshold
// drop sends a regression alert, otherwise a plain completion notice.
func RunOnComplete(ctx context.Context, deps *HookDeps, raw json.RawMessage) error {
	var p OnCompletePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	threshold := p.RegressionThreshold
	if threshold <= 0 {
		threshold = defaultRegressionThreshold
	}

	current, err := deps.Store.GetAnalysisRun(ctx, p.AnalysisRunID)
	if err != nil {
		return fmt.Errorf("load analysis run: %w", err)
	}
	if current.HealthScore == nil {
		return nil
	}

	previous, err := deps.Store.GetMostRecentCompleted(ctx, p.RepoID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load previous analysis run: %w", err)
	}

	if previous != nil && previous.ID != current.ID && previous.HealthScore != nil {
		drop := *previous.HealthScore - *current.HealthScore
		if drop > threshold {
			return deps.notifier().NotifyRegression(ctx, p.RepoID, *previous.HealthScore, *current.HealthScore, drop)
		}
	}

	return deps.notifier().NotifyComplete(ctx, p.RepoID, *current.HealthScore)
}

// RunOnFailed implements the onFailed hook.
func RunOnFailed(ctx context.Context, deps *HookDeps, raw json.RawMessage) error {
	var p OnFailedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return deps.notifier().NotifyFailure(ctx, p.RepoID, p.ErrorMessage)
}

// RunPostPRComment implements the postPRComment hook: formats a short
// comment (score, delta, per-category scores, top findings, report
// link) and posts it via the installation token.
func RunPostPRComment(ctx context.Context, deps *HookDeps, raw json.RawMessage) error {
	var p PostPRCommentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	run, err := deps.Store.GetAnalysisRun(ctx, p.AnalysisRunID)
	if err != nil {
		return fmt.Errorf("load analysis run: %w", err)
	}

	findings, err := deps.Store.GetFindings(ctx, p.AnalysisRunID)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}

	body := formatPRComment(run, findings, p.ReportURL)

	if deps.GitHub == nil {
		deps.logger().Warn("no GitHub client configured, skipping PR comment")
		return nil
	}

	_, err = deps.GitHub.PostPRComment(ctx, p.Owner, p.RepoName, p.PRNumber, body)
	if err != nil {
		return fmt.Errorf("post PR comment: %w", err)
	}
	return nil
}

func formatPRComment(run *store.AnalysisRun, findings []*store.Finding, reportURL string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "## Code Health Report\n\n")

	if run.HealthScore != nil {
		fmt.Fprintf(&b, "**Overall health:** %.0f/100", *run.HealthScore)
		if run.ScoreDelta != nil {
			fmt.Fprintf(&b, " (%+.1f)", *run.ScoreDelta)
		}
		b.WriteString("\n\n")
	}

	if run.StructureScore != nil {
		fmt.Fprintf(&b, "- Structure: %.0f\n", *run.StructureScore)
	}
	if run.QualityScore != nil {
		fmt.Fprintf(&b, "- Quality: %.0f\n", *run.QualityScore)
	}
	if run.ArchitectureScore != nil {
		fmt.Fprintf(&b, "- Architecture: %.0f\n", *run.ArchitectureScore)
	}

	fmt.Fprintf(&b, "\n**%d finding(s)**\n\n", len(findings))

	top := findings
	if len(top) > 5 {
		top = top[:5]
	}
	for _, f := range top {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", f.Severity, f.Detector, f.Title)
	}

	if reportURL != "" {
		fmt.Fprintf(&b, "\n[Full report](%s)\n", reportURL)
	}

	return b.String()
}

// RunPostCheckRun implements the postCheckRun hook: creates a
// check-run on the commit, then completes it with a conclusion derived
// from score and finding severity.
func RunPostCheckRun(ctx context.Context, deps *HookDeps, raw json.RawMessage) error {
	var p PostCheckRunPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	run, err := deps.Store.GetAnalysisRun(ctx, p.AnalysisRunID)
	if err != nil {
		return fmt.Errorf("load analysis run: %w", err)
	}
	findings, err := deps.Store.GetFindings(ctx, p.AnalysisRunID)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}

	if deps.GitHub == nil {
		deps.logger().Warn("no GitHub client configured, skipping check run")
		return nil
	}

	checkRunID, err := deps.GitHub.CreateCheckRun(ctx, p.Owner, p.RepoName, "Code Health", p.CommitSHA)
	if err != nil {
		return fmt.Errorf("create check run: %w", err)
	}

	conclusion, title, summary := checkRunConclusion(run, findings)

	if err := deps.GitHub.CompleteCheckRun(ctx, p.Owner, p.RepoName, checkRunID, conclusion, title, summary); err != nil {
		return fmt.Errorf("complete check run: %w", err)
	}
	return nil
}

func checkRunConclusion(run *store.AnalysisRun, findings []*store.Finding) (github.CheckConclusion, string, string) {
	critical := 0
	for _, f := range findings {
		if f.Severity == "critical" {
			critical++
		}
	}

	score := 100.0
	if run.HealthScore != nil {
		score = *run.HealthScore
	}

	switch {
	case critical > 0 || score < 60:
		return github.ConclusionFailure, "Code health check failed", fmt.Sprintf("%d finding(s), %d critical. Health score %.0f/100.", len(findings), critical, score)
	case score < 85:
		return github.ConclusionNeutral, "Code health check passed with warnings", fmt.Sprintf("%d finding(s). Health score %.0f/100.", len(findings), score)
	default:
		return github.ConclusionSuccess, "Code health check passed", fmt.Sprintf("Health score %.0f/100.", score)
	}
}

// RunSendWebhook implements the sendWebhook hook: HMAC-SHA256-signs
// the payload (stdlib crypto/hmac — justified in DESIGN.md, no
// third-party webhook-signing library appears anywhere in the pack) and
// delivers it, retrying on 5xx/429 and dropping on a persistent 4xx.
func RunSendWebhook(ctx context.Context, deps *HookDeps, raw json.RawMessage) error {
	var p SendWebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	sig := signPayload(p.Secret, p.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Event", p.Event)
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		// Network errors are transient — surface to the worker pool's
		// normal retry path.
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook endpoint returned %d, will retry", resp.StatusCode)
	default:
		// Persistent 4xx: the endpoint rejected the request outright.
		// Returning nil acks the job instead of burning retries on a
		// payload the endpoint will never accept.
		deps.logger().WithField("status", resp.StatusCode).Warn("webhook dropped after persistent client error")
		return nil
	}
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

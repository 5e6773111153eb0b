// Package github delivers analysis results back to GitHub: PR comments
// and check-runs, the two hook destinations this module actually needs,
// adapted down from the teacher's broader ingestion-oriented client
// (FetchRepository/FetchCommits/FetchFiles/FetchPullRequests/FetchIssues —
// the GitHub-as-a-data-source domain this module doesn't have).
package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"
)

// CheckConclusion mirrors GitHub's check-run conclusion enum, restricted
// to the three values the postCheckRun hook can produce.
type CheckConclusion string

const (
	ConclusionSuccess CheckConclusion = "success"
	ConclusionNeutral CheckConclusion = "neutral"
	ConclusionFailure CheckConclusion = "failure"
)

// Client wraps the GitHub API client with rate limiting, kept from the
// teacher's shape even though this client only exercises two endpoints
// now — a burst of hook deliveries across many repos still needs the
// same throttling the teacher applied to its ingestion calls.
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a GitHub client authenticated with an
// installation/app token, rate limited to rateLimit requests/sec (10 when
// rateLimit is not positive).
func NewClient(token string, rateLimit int) *Client {
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &Client{
		client:      github.NewClient(nil).WithAuthToken(token),
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// PostPRComment posts body as a new issue comment on pr (PRs are issues
// in GitHub's API), returning the created comment's ID.
func (c *Client) PostPRComment(ctx context.Context, owner, repo string, prNumber int, body string) (int64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	comment, _, err := c.client.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{
		Body: &body,
	})
	if err != nil {
		return 0, fmt.Errorf("post PR comment: %w", err)
	}

	return comment.GetID(), nil
}

// CreateCheckRun starts an in-progress check-run on commitSHA, returning
// its ID for a later CompleteCheckRun call.
func (c *Client) CreateCheckRun(ctx context.Context, owner, repo, name, commitSHA string) (int64, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	status := "in_progress"
	run, _, err := c.client.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: commitSHA,
		Status:  &status,
	})
	if err != nil {
		return 0, fmt.Errorf("create check run: %w", err)
	}

	return run.GetID(), nil
}

// CompleteCheckRun finishes a check-run with conclusion, title, and
// summary — the final step of the postCheckRun hook.
func (c *Client) CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, conclusion CheckConclusion, title, summary string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	status := "completed"
	concl := string(conclusion)
	_, _, err := c.client.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunOptions{
		Status:     &status,
		Conclusion: &concl,
		Output: &github.CheckRunOutput{
			Title:   &title,
			Summary: &summary,
		},
	})
	if err != nil {
		return fmt.Errorf("complete check run: %w", err)
	}

	return nil
}

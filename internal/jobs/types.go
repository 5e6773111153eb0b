package jobs

import (
	"encoding/json"
	"time"
)

// Queue names dispatched jobs are routed to.
const (
	QueueDefault           = "default"
	QueueAnalysis          = "analysis"
	QueueAnalysisPriority  = "analysis.priority"
)

// Job kinds dispatched by the worker pool's handler registry.
const (
	KindAnalyzeRepository         = "analyzeRepository"
	KindAnalyzeRepositoryPriority = "analyzeRepositoryPriority"
	KindAnalyzePR                 = "analyzePR"
	KindOnComplete                = "onComplete"
	KindOnFailed                  = "onFailed"
	KindPostPRComment             = "postPRComment"
	KindPostCheckRun              = "postCheckRun"
	KindSendWebhook                = "sendWebhook"
)

// Spec is the static retry/timeout contract for one job kind. PerMinute
// caps how many jobs of this kind a single worker may start per minute
// (0 = unlimited).
type Spec struct {
	Queue       string
	MaxRetries  int
	SoftTimeout time.Duration
	PerMinute   int
}

// Specs is the job table itself.
var Specs = map[string]Spec{
	KindAnalyzeRepository:         {Queue: QueueAnalysis, MaxRetries: 3, SoftTimeout: 30 * time.Minute, PerMinute: 10},
	KindAnalyzeRepositoryPriority: {Queue: QueueAnalysisPriority, MaxRetries: 3, SoftTimeout: 30 * time.Minute, PerMinute: 10},
	KindAnalyzePR:                 {Queue: QueueAnalysis, MaxRetries: 2, SoftTimeout: 30 * time.Minute, PerMinute: 20},
	KindOnComplete:                {Queue: QueueDefault, MaxRetries: 5, SoftTimeout: time.Minute},
	KindOnFailed:                  {Queue: QueueDefault, MaxRetries: 5, SoftTimeout: time.Minute},
	KindPostPRComment:             {Queue: QueueDefault, MaxRetries: 5, SoftTimeout: time.Minute},
	KindPostCheckRun:              {Queue: QueueDefault, MaxRetries: 5, SoftTimeout: time.Minute},
	KindSendWebhook:               {Queue: QueueDefault, MaxRetries: 8, SoftTimeout: 30 * time.Second},
}

// Envelope is the wire shape stored in Redis for one enqueued job.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// AnalyzeRepositoryPayload backs analyzeRepository/analyzeRepositoryPriority.
type AnalyzeRepositoryPayload struct {
	AnalysisRunID string `json:"analysis_run_id"`
	OrgID         string `json:"org_id"`
	OrgSlug       string `json:"org_slug"`
	RepoID        string `json:"repo_id"`
	RepoSlug      string `json:"repo_slug"`
	CloneURL      string `json:"clone_url"`
	CommitSHA     string `json:"commit_sha"`
	Incremental   bool   `json:"incremental"`
}

// AnalyzePRPayload backs analyzePR.
type AnalyzePRPayload struct {
	AnalysisRunID string `json:"analysis_run_id"`
	OrgID         string `json:"org_id"`
	OrgSlug       string `json:"org_slug"`
	RepoID        string `json:"repo_id"`
	RepoSlug      string `json:"repo_slug"`
	CloneURL      string `json:"clone_url"`
	Owner         string `json:"owner"`
	RepoName      string `json:"repo_name"`
	PRNumber      int    `json:"pr_number"`
	BaseSHA       string `json:"base_sha"`
	HeadSHA       string `json:"head_sha"`
}

// OnCompletePayload backs onComplete.
type OnCompletePayload struct {
	AnalysisRunID        string `json:"analysis_run_id"`
	RepoID               string `json:"repo_id"`
	RegressionThreshold  float64 `json:"regression_threshold"`
}

// OnFailedPayload backs onFailed.
type OnFailedPayload struct {
	AnalysisRunID string `json:"analysis_run_id"`
	RepoID        string `json:"repo_id"`
	ErrorMessage  string `json:"error_message"`
}

// PostPRCommentPayload backs postPRComment.
type PostPRCommentPayload struct {
	AnalysisRunID string `json:"analysis_run_id"`
	Owner         string `json:"owner"`
	RepoName      string `json:"repo_name"`
	PRNumber      int    `json:"pr_number"`
	ReportURL     string `json:"report_url"`
}

// PostCheckRunPayload backs postCheckRun.
type PostCheckRunPayload struct {
	AnalysisRunID string `json:"analysis_run_id"`
	Owner         string `json:"owner"`
	RepoName      string `json:"repo_name"`
	CommitSHA     string `json:"commit_sha"`
}

// SendWebhookPayload backs sendWebhook.
type SendWebhookPayload struct {
	AnalysisRunID string            `json:"analysis_run_id"`
	Endpoint      string            `json:"endpoint"`
	Secret        string            `json:"secret"`
	Event         string            `json:"event"`
	Body          json.RawMessage   `json:"body"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Package scamcheck defines the core domain types and interfaces shared by
// the analysis pipeline, the progress relay, and the HTTP surface.
package scamcheck

import "time"

// RiskLevel is the coarse verdict bucket reported to clients.
type RiskLevel string

// Supported risk levels, ordered from benign to dangerous.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// QueueItem is one scam-check request waiting for a worker.
type QueueItem struct {
	// TaskID correlates the analysis run with its progress stream.
	TaskID string
	// Text is the raw free-text message under analysis.
	Text string
	// Attempt starts at 1 and increments on re-enqueue.
	Attempt int
	// Submitted is the enqueue time as a Unix timestamp.
	Submitted int64
}

// Evidence is one fetched page used to support the verdict.
type Evidence struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Snippet    string        `json:"snippet,omitempty"`
	Dur        time.Duration `json:"-"`
}

// DomainFinding is the verification result for one domain extracted from the
// request text.
type DomainFinding struct {
	Domain  string `json:"domain"`
	Listed  bool   `json:"listed"`
	Trusted bool   `json:"trusted"`
	Note    string `json:"note,omitempty"`
}

// Verdict is the final result of one analysis run.
type Verdict struct {
	TaskID     string          `json:"task_id"`
	Risk       RiskLevel       `json:"risk"`
	Score      float64         `json:"score"`
	Reasons    []string        `json:"reasons,omitempty"`
	Domains    []DomainFinding `json:"domains,omitempty"`
	AnalyzedAt time.Time       `json:"analyzed_at"`
}

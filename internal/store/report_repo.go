package store

import (
	"context"
	"errors"
	"time"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

// ErrNotFound signals that the requested report does not exist.
var ErrNotFound = errors.New("report not found")

// TaskStatus mirrors the reports status column.
type TaskStatus string

// Task statuses persisted in reports.status.
const (
	StatusRunning TaskStatus = "running"
	StatusDone    TaskStatus = "done"
	StatusError   TaskStatus = "error"
)

// Report models one scam-check task for API responses.
type Report struct {
	// TaskID is the identifier shared with the progress stream.
	TaskID string
	// Text is the submitted message.
	Text string
	// Status is running/done/error.
	Status TaskStatus
	// Cached reports whether the verdict was served from the dedup cache.
	Cached bool
	// Verdict is nil until the task reaches done.
	Verdict *scamcheck.Verdict
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
	// SubmittedAt captures when the check was accepted.
	SubmittedAt time.Time
	// FinishedAt is nil until the task is marked done/error.
	FinishedAt *time.Time
}

// ReportRepository persists task lifecycle state and final verdicts.
type ReportRepository interface {
	// CreateReport inserts the accepted task in running state.
	CreateReport(ctx context.Context, taskID, text string, submittedAt time.Time) error
	// CompleteReport marks the task done and attaches the verdict.
	CompleteReport(ctx context.Context, taskID string, verdict scamcheck.Verdict, cached bool, finishedAt time.Time) error
	// FailReport marks the task errored with the given message.
	FailReport(ctx context.Context, taskID string, errMsg string, finishedAt time.Time) error
	// GetReport loads a single report or returns ErrNotFound.
	GetReport(ctx context.Context, taskID string) (Report, error)
}

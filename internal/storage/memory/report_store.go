// Package memory provides in-memory storage implementations for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/store"
)

// ReportStore is a mutex-guarded map implementation of store.ReportRepository.
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]store.Report
}

// NewReportStore creates an empty ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]store.Report)}
}

// CreateReport inserts the accepted task in running state.
func (s *ReportStore) CreateReport(ctx context.Context, taskID, text string, submittedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[taskID]; exists {
		return fmt.Errorf("report %s already exists", taskID)
	}
	s.reports[taskID] = store.Report{
		TaskID:      taskID,
		Text:        text,
		Status:      store.StatusRunning,
		SubmittedAt: submittedAt,
	}
	return nil
}

// CompleteReport marks the task done and attaches the verdict.
func (s *ReportStore) CompleteReport(ctx context.Context, taskID string, verdict scamcheck.Verdict, cached bool, finishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[taskID]
	if !ok {
		return store.ErrNotFound
	}
	rep.Status = store.StatusDone
	rep.Cached = cached
	rep.Verdict = &verdict
	rep.FinishedAt = &finishedAt
	s.reports[taskID] = rep
	return nil
}

// FailReport marks the task errored with the given message.
func (s *ReportStore) FailReport(ctx context.Context, taskID string, errMsg string, finishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[taskID]
	if !ok {
		return store.ErrNotFound
	}
	rep.Status = store.StatusError
	rep.ErrorMessage = &errMsg
	rep.FinishedAt = &finishedAt
	s.reports[taskID] = rep
	return nil
}

// GetReport loads a single report or returns store.ErrNotFound.
func (s *ReportStore) GetReport(ctx context.Context, taskID string) (store.Report, error) {
	if err := ctx.Err(); err != nil {
		return store.Report{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reports[taskID]
	if !ok {
		return store.Report{}, store.ErrNotFound
	}
	return rep, nil
}

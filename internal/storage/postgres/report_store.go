// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/store"
)

// ReportStoreConfig controls the Postgres connection pool used for reports.
type ReportStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ReportStore persists scam reports in the reports table.
type ReportStore struct {
	pool dbPool
}

// NewReportStore creates a Postgres-backed ReportStore using the provided config.
func NewReportStore(ctx context.Context, cfg ReportStoreConfig) (*ReportStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ReportStore{pool: pool}, nil
}

// NewReportStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewReportStoreWithPool(pool dbPool) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ReportStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateReport inserts the accepted task in running state.
func (s *ReportStore) CreateReport(ctx context.Context, taskID, text string, submittedAt time.Time) error {
	const query = `
INSERT INTO reports (task_id, text, status, submitted_at)
VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, taskID, text, string(store.StatusRunning), submittedAt); err != nil {
		return fmt.Errorf("insert report %s: %w", taskID, err)
	}
	return nil
}

// CompleteReport marks the task done and attaches the verdict as JSON.
func (s *ReportStore) CompleteReport(ctx context.Context, taskID string, verdict scamcheck.Verdict, cached bool, finishedAt time.Time) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	const query = `
UPDATE reports
SET status = $2, cached = $3, verdict = $4, finished_at = $5
WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID, string(store.StatusDone), cached, payload, finishedAt)
	if err != nil {
		return fmt.Errorf("complete report %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FailReport marks the task errored with the given message.
func (s *ReportStore) FailReport(ctx context.Context, taskID string, errMsg string, finishedAt time.Time) error {
	const query = `
UPDATE reports
SET status = $2, error_message = $3, finished_at = $4
WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID, string(store.StatusError), errMsg, finishedAt)
	if err != nil {
		return fmt.Errorf("fail report %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetReport loads a single report or returns store.ErrNotFound.
func (s *ReportStore) GetReport(ctx context.Context, taskID string) (store.Report, error) {
	const query = `
SELECT text, status, cached, verdict, error_message, submitted_at, finished_at
FROM reports
WHERE task_id = $1`

	var (
		rep     = store.Report{TaskID: taskID}
		status  string
		verdict []byte
	)
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&rep.Text,
		&status,
		&rep.Cached,
		&verdict,
		&rep.ErrorMessage,
		&rep.SubmittedAt,
		&rep.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Report{}, store.ErrNotFound
	}
	if err != nil {
		return store.Report{}, fmt.Errorf("get report %s: %w", taskID, err)
	}
	rep.Status = store.TaskStatus(status)
	if len(verdict) > 0 {
		var v scamcheck.Verdict
		if err := json.Unmarshal(verdict, &v); err != nil {
			return store.Report{}, fmt.Errorf("decode verdict for %s: %w", taskID, err)
		}
		rep.Verdict = &v
	}
	return rep, nil
}

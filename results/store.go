// Package results persists run outcomes to Postgres so acceptance history
// can be queried across CI runs. Persistence is optional: without a
// database URI the nop store is used.
package results

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbforge/compute-acceptor/types"
)

// Store records acceptance runs.
type Store interface {
	RecordRun(ctx context.Context, run *types.RunResult) error
	Close()
}

// schema is applied on connect; idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS acceptance_runs (
	run_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS acceptance_version_results (
	run_id        TEXT NOT NULL REFERENCES acceptance_runs (run_id),
	version       INT NOT NULL,
	test_version  INT NOT NULL,
	status        TEXT NOT NULL,
	duration_ms   BIGINT NOT NULL,
	failed_suites TEXT,
	error         TEXT,
	PRIMARY KEY (run_id, version)
);
`

// PGXStore is the pgx-backed Store.
type PGXStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGXStore)(nil)

// New connects to the database and ensures the schema exists.
func New(ctx context.Context, uri string) (*PGXStore, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PGXStore{pool: pool}, nil
}

// RecordRun inserts the run and its version results in one transaction.
func (s *PGXStore) RecordRun(ctx context.Context, run *types.RunResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`INSERT INTO acceptance_runs (run_id, status, started_at, ended_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		run.RunID, string(run.Status), run.Stats.StartTime, run.Stats.EndTime,
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, v := range run.Versions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO acceptance_version_results
			 (run_id, version, test_version, status, duration_ms, failed_suites, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`,
			versionRow(run.RunID, v)...,
		); err != nil {
			return fmt.Errorf("failed to insert version %d result: %w", v.Version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LastRun returns the most recent recorded run, or nil when none exist.
func (s *PGXStore) LastRun(ctx context.Context) (*types.RunResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, status, started_at, ended_at
		 FROM acceptance_runs ORDER BY started_at DESC LIMIT 1`)

	var run types.RunResult
	var status string
	if err := row.Scan(&run.RunID, &status, &run.Stats.StartTime, &run.Stats.EndTime); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	run.Status = types.Status(status)
	return &run, nil
}

func (s *PGXStore) Close() {
	s.pool.Close()
}

// versionRow converts a version result into insert arguments.
func versionRow(runID string, v *types.VersionResult) []any {
	var errText any
	if v.Err != nil {
		errText = v.Err.Error()
	}
	var suites any
	if len(v.FailedSuites) > 0 {
		suites = strings.Join(v.FailedSuites, " ")
	}
	return []any{
		runID,
		v.Version,
		v.TestVersion,
		string(v.Status),
		v.Duration.Milliseconds(),
		suites,
		errText,
	}
}

// NopStore discards everything; used when no database URI is configured.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) RecordRun(ctx context.Context, run *types.RunResult) error { return nil }
func (NopStore) Close()                                                    {}

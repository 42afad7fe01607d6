// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlwright/internal/store"
)

// Schema creates the journal tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS crawl_outcomes (
	id       BIGSERIAL PRIMARY KEY,
	run_id   UUID NOT NULL REFERENCES crawl_runs (id),
	url      TEXT NOT NULL,
	label    TEXT NOT NULL DEFAULT '',
	state    TEXT NOT NULL,
	reason   TEXT NOT NULL DEFAULT '',
	retries  INTEGER NOT NULL DEFAULT 0,
	error    TEXT NOT NULL DEFAULT '',
	at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS crawl_outcomes_run_state ON crawl_outcomes (run_id, state);
CREATE TABLE IF NOT EXISTS crawl_site_stats (
	run_id      UUID NOT NULL REFERENCES crawl_runs (id),
	site        TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	fetches     BIGINT NOT NULL DEFAULT 0,
	bytes_total BIGINT NOT NULL DEFAULT 0,
	fetch_2xx   BIGINT NOT NULL DEFAULT 0,
	fetch_3xx   BIGINT NOT NULL DEFAULT 0,
	fetch_4xx   BIGINT NOT NULL DEFAULT 0,
	fetch_5xx   BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, site)
);
`

// JournalStoreConfig controls the Postgres connection pool used for the journal.
type JournalStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// JournalStore implements store.JournalRepository using Postgres.
type JournalStore struct {
	pool pool
}

var _ store.JournalRepository = (*JournalStore)(nil)

// NewJournalStore connects a pgx pool using the provided config.
func NewJournalStore(ctx context.Context, cfg JournalStoreConfig) (*JournalStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("journal.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JournalStore{pool: p}, nil
}

// NewJournalStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJournalStoreWithPool(p pool) (*JournalStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &JournalStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *JournalStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the journal tables when missing.
func (s *JournalStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// StartRun inserts a running run; a repeated start is a no-op.
func (s *JournalStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *JournalStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordOutcomes inserts outcomes in a single transaction.
func (s *JournalStore) RecordOutcomes(ctx context.Context, outcomes []store.Outcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outcomes tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	query := `
		INSERT INTO crawl_outcomes (run_id, url, label, state, reason, retries, error, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	for _, o := range outcomes {
		if _, err = tx.Exec(ctx, query, o.RunID, o.URL, o.Label, o.State, o.Reason, o.Retries, o.Error, o.At); err != nil {
			return fmt.Errorf("failed to insert outcome: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outcomes tx: %w", err)
	}
	return nil
}

// UpsertSiteStats adds fetch and byte deltas to the (run, site) aggregate.
func (s *JournalStore) UpsertSiteStats(
	ctx context.Context,
	runID uuid.UUID,
	site string,
	deltaFetches,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	var fetch2xx, fetch3xx, fetch4xx, fetch5xx int64
	switch statusClass {
	case "2xx":
		fetch2xx = deltaFetches
	case "3xx":
		fetch3xx = deltaFetches
	case "4xx":
		fetch4xx = deltaFetches
	case "5xx":
		fetch5xx = deltaFetches
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	query := `
		INSERT INTO crawl_site_stats (run_id, site, last_update, fetches, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, site) DO UPDATE SET
			last_update = GREATEST(crawl_site_stats.last_update, EXCLUDED.last_update),
			fetches = crawl_site_stats.fetches + EXCLUDED.fetches,
			bytes_total = crawl_site_stats.bytes_total + EXCLUDED.bytes_total,
			fetch_2xx = crawl_site_stats.fetch_2xx + EXCLUDED.fetch_2xx,
			fetch_3xx = crawl_site_stats.fetch_3xx + EXCLUDED.fetch_3xx,
			fetch_4xx = crawl_site_stats.fetch_4xx + EXCLUDED.fetch_4xx,
			fetch_5xx = crawl_site_stats.fetch_5xx + EXCLUDED.fetch_5xx;
	`
	_, err := s.pool.Exec(ctx, query,
		runID, site, at, deltaFetches, deltaBytes, fetch2xx, fetch3xx, fetch4xx, fetch5xx)
	if err != nil {
		return fmt.Errorf("failed to upsert site stats: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *JournalStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *JournalStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListOutcomes retrieves a run's outcomes in insertion order.
func (s *JournalStore) ListOutcomes(
	ctx context.Context,
	runID uuid.UUID,
	filter store.OutcomeFilter,
) ([]store.Outcome, error) {
	query := `
		SELECT run_id, url, label, state, reason, retries, error, at
		FROM crawl_outcomes
		WHERE run_id = $1 AND ($2 = '' OR state = $2)
		ORDER BY id
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, runID, filter.State, limitArg(filter.Limit), filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []store.Outcome
	for rows.Next() {
		var o store.Outcome
		if err := rows.Scan(&o.RunID, &o.URL, &o.Label, &o.State, &o.Reason, &o.Retries, &o.Error, &o.At); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// ListRunSites retrieves aggregated site statistics for a given run.
func (s *JournalStore) ListRunSites(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.SiteStats, error) {
	query := `
		SELECT run_id, site, last_update, fetches, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM crawl_site_stats
		WHERE run_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limitArg(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list run sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Fetches,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate site stats: %w", err)
	}
	return stats, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

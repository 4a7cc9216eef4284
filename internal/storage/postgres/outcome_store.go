// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webshot/internal/store"
)

const defaultTable = "capture_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for outcome rows.
// Run rows live in "<Table>_runs".
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// OutcomeStore implements store.OutcomeRepository on Postgres.
type OutcomeStore struct {
	pool      pool
	table     string
	runsTable string
}

var _ store.OutcomeRepository = (*OutcomeStore)(nil)

// NewOutcomeStore connects to Postgres using cfg.
func NewOutcomeStore(ctx context.Context, cfg Config) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	s, err := NewOutcomeStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(p pool, table string) (*OutcomeStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &OutcomeStore{pool: p, table: table, runsTable: table + "_runs"}, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts the run row, leaving an existing row untouched.
func (s *OutcomeStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, targets int) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, targets, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO NOTHING`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, targets, store.RunRunning); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordCaptures inserts every record in one transaction.
func (s *OutcomeStore) RecordCaptures(ctx context.Context, records []store.CaptureRecord) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	url,
	site,
	slot,
	status,
	http_status,
	bytes,
	uri,
	title,
	reason,
	duration_ms,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin capture insert: %w", err)
	}
	for _, rec := range records {
		args := []any{
			rec.RunID,
			rec.URL,
			rec.Site,
			rec.Slot,
			rec.Status,
			rec.HTTPStatus,
			rec.Bytes,
			rec.URI,
			rec.Title,
			rec.Reason,
			rec.Duration.Milliseconds(),
			rec.FinishedAt,
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert capture %s: %w", rec.URL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit capture insert: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *OutcomeStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3
WHERE run_id = $4`, s.runsTable)
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

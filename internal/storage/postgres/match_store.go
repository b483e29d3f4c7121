// Package postgres persists run results into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dev-pucci/FCW-Targeted/internal/aggregate"
	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable receives one row per target per run.
const DefaultTable = "agreement_matches"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// MatchStore writes found and not-found targets for a run.
type MatchStore struct {
	pool  pool
	table string
}

// NewMatchStore connects to Postgres using cfg.
func NewMatchStore(ctx context.Context, cfg Config) (*MatchStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MatchStore{pool: p, table: table}, nil
}

// NewMatchStoreWithPool builds a store over an existing pool (primarily for testing).
func NewMatchStoreWithPool(p pool, table string) (*MatchStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &MatchStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the pool.
func (s *MatchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the results table when it does not exist yet.
func (s *MatchStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT NOT NULL,
	target_id       TEXT NOT NULL,
	found           BOOLEAN NOT NULL,
	title           TEXT,
	approval_date   TEXT,
	nominal_expiry  TEXT,
	status          TEXT,
	agreement_type  TEXT,
	agreement_code  TEXT,
	industry        TEXT,
	fwca_code       TEXT,
	download_url    TEXT,
	page_number     INTEGER,
	worker_id       INTEGER,
	warnings        JSONB,
	document_uri    TEXT,
	document_hash   TEXT,
	recorded_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, target_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// StoreResult writes every target of res in one transaction. Rows that
// already exist for the run are left untouched.
func (s *MatchStore) StoreResult(ctx context.Context, runID string, at time.Time, res aggregate.Result) (err error) {
	if runID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	insert := fmt.Sprintf(`
INSERT INTO %s (
	run_id, target_id, found, title, approval_date, nominal_expiry, status,
	agreement_type, agreement_code, industry, fwca_code, download_url,
	page_number, worker_id, warnings, document_uri, document_hash, recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
) ON CONFLICT (run_id, target_id) DO NOTHING`, s.table)

	for _, rec := range res.Found {
		args, err := foundArgs(runID, at, rec)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("insert match %s: %w", rec.ID, err)
		}
	}
	for _, id := range res.NotFound {
		if _, err := tx.Exec(ctx, insert, notFoundArgs(runID, at, id)...); err != nil {
			return fmt.Errorf("insert not-found %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func foundArgs(runID string, at time.Time, rec crawler.Metadata) ([]any, error) {
	warnings := rec.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("marshal warnings: %w", err)
	}
	return []any{
		runID, rec.ID, true, rec.Title, rec.ApprovalDate, rec.NominalExpiry, rec.Status,
		rec.AgreementType, rec.AgreementCode, rec.Industry, rec.FWCACode, rec.DownloadURL,
		rec.PageNumber, rec.WorkerID, warningsJSON, rec.DocumentURI, rec.DocumentHash, at,
	}, nil
}

func notFoundArgs(runID string, at time.Time, id string) []any {
	return []any{
		runID, id, false, nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil, at,
	}
}

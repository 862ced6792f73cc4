// Package postgres persists the job outcome ledger in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

const defaultTable = "collector_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for ledger rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// OutcomeStore appends outcome rows to a Postgres table.
type OutcomeStore struct {
	pool  pool
	table string
}

// NewOutcomeStore connects a pool using cfg.
func NewOutcomeStore(ctx context.Context, cfg Config) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
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
	return &OutcomeStore{pool: p, table: table}, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool.
func NewOutcomeStoreWithPool(p pool, table string) (*OutcomeStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the ledger table when it is missing.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL,
	tenant      TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	entity      TEXT NOT NULL DEFAULT '',
	entities    INTEGER NOT NULL DEFAULT 0,
	archive_uri TEXT NOT NULL DEFAULT '',
	error_text  TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordOutcome inserts one ledger row.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, record collector.OutcomeRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("outcome store is not configured")
	}
	if record.JobID == "" {
		return errors.New("record job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	tenant,
	strategy,
	status,
	reason,
	entity,
	entities,
	archive_uri,
	error_text,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, s.table)

	args := []any{
		record.JobID,
		record.Tenant,
		string(record.Strategy),
		string(record.Status),
		string(record.Reason),
		record.Entity,
		record.Entities,
		record.ArchiveURI,
		record.Error,
		record.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *OutcomeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

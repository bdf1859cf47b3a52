// Package database mirrors flushed dossier batches into Postgres.
package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "dossiers"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Mirror upserts rows keyed by identifier. The newest write wins, matching the
// parquet store's default merge policy.
type Mirror struct {
	pool   pool
	table  string
	logger *zap.Logger
}

var _ store.Mirror = (*Mirror)(nil)

// New connects to Postgres and ensures the mirror table exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Mirror, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	m, err := NewWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := m.EnsureTable(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return m, nil
}

// NewWithPool constructs a mirror from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, logger *zap.Logger) (*Mirror, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{pool: p, table: table, logger: logger.Named("mirror")}, nil
}

// Close releases the underlying pool resources.
func (m *Mirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// EnsureTable creates the mirror table when missing.
func (m *Mirror) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	identifier TEXT PRIMARY KEY,
	extracted_at TIMESTAMPTZ,
	success BOOLEAN NOT NULL,
	error_message TEXT,
	error_kind TEXT,
	source_url TEXT,
	source TEXT,
	class TEXT,
	subject TEXT,
	rapporteur TEXT,
	origin TEXT,
	filed_at TEXT,
	status TEXT,
	parties JSONB,
	movements JSONB,
	documents JSONB,
	decisions JSONB,
	full_text TEXT,
	text_length BIGINT,
	extra JSONB
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", m.table, err)
	}
	return nil
}

func (m *Mirror) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (
	identifier,
	extracted_at,
	success,
	error_message,
	error_kind,
	source_url,
	source,
	class,
	subject,
	rapporteur,
	origin,
	filed_at,
	status,
	parties,
	movements,
	documents,
	decisions,
	full_text,
	text_length,
	extra
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (identifier) DO UPDATE SET
	extracted_at = EXCLUDED.extracted_at,
	success = EXCLUDED.success,
	error_message = EXCLUDED.error_message,
	error_kind = EXCLUDED.error_kind,
	source_url = EXCLUDED.source_url,
	source = EXCLUDED.source,
	class = EXCLUDED.class,
	subject = EXCLUDED.subject,
	rapporteur = EXCLUDED.rapporteur,
	origin = EXCLUDED.origin,
	filed_at = EXCLUDED.filed_at,
	status = EXCLUDED.status,
	parties = EXCLUDED.parties,
	movements = EXCLUDED.movements,
	documents = EXCLUDED.documents,
	decisions = EXCLUDED.decisions,
	full_text = EXCLUDED.full_text,
	text_length = EXCLUDED.text_length,
	extra = EXCLUDED.extra`, m.table)
}

// UpsertRows writes rows in one transaction.
func (m *Mirror) UpsertRows(ctx context.Context, rows []store.Row) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				m.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	query := m.upsertQuery()
	for _, row := range rows {
		if _, err = tx.Exec(ctx, query, rowArgs(row)...); err != nil {
			return fmt.Errorf("upsert %s: %w", row.Identifier, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror tx: %w", err)
	}
	return nil
}

func rowArgs(row store.Row) []any {
	var extractedAt *time.Time
	if t := row.ExtractedTime(); !t.IsZero() {
		extractedAt = &t
	}
	return []any{
		row.Identifier,
		extractedAt,
		row.Success,
		row.ErrorMessage,
		row.ErrorKind,
		row.SourceURL,
		row.Source,
		row.Class,
		row.Subject,
		row.Rapporteur,
		row.Origin,
		row.FiledAt,
		row.Status,
		jsonOrNil(row.Parties),
		jsonOrNil(row.Movements),
		jsonOrNil(row.Documents),
		jsonOrNil(row.Decisions),
		row.FullText,
		row.TextLength,
		jsonOrNil(row.Extra),
	}
}

func jsonOrNil(text string) any {
	if text == "" {
		return nil
	}
	return []byte(text)
}

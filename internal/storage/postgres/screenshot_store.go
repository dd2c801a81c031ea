// Package postgres provides Postgres-backed persistence for screenshot
// metadata.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/screenshot-service/internal/screenshot"
)

const defaultTable = "screenshots"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for screenshot rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements screenshot.RecordStore on Postgres.
type Store struct {
	pool  querier
	table string
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table and its listing index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	resolution  TEXT NOT NULL,
	user_agent  TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL,
	blob_uri    TEXT NOT NULL DEFAULT '',
	hash        TEXT NOT NULL DEFAULT '',
	bytes       INTEGER NOT NULL DEFAULT 0,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC, id DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save upserts a screenshot row.
func (s *Store) Save(ctx context.Context, record screenshot.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, url, resolution, user_agent, path, blob_uri, hash,
	bytes, width, height, created_at, duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (id) DO UPDATE SET
	path = EXCLUDED.path,
	blob_uri = EXCLUDED.blob_uri,
	hash = EXCLUDED.hash,
	bytes = EXCLUDED.bytes`, s.table)

	args := []any{
		record.ID,
		record.URL,
		string(record.Resolution),
		string(record.UserAgent),
		record.Path,
		record.BlobURI,
		record.Hash,
		record.Bytes,
		record.Width,
		record.Height,
		record.CreatedAt,
		record.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert screenshot: %w", err)
	}
	return nil
}

const selectColumns = `id, url, resolution, user_agent, path, blob_uri, hash, bytes, width, height, created_at, duration_ms`

// Get loads one row or returns screenshot.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (screenshot.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	record, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return screenshot.Record{}, fmt.Errorf("screenshot %s: %w", id, screenshot.ErrNotFound)
	}
	if err != nil {
		return screenshot.Record{}, fmt.Errorf("select screenshot: %w", err)
	}
	return record, nil
}

// List returns rows newest first. limit <= 0 returns every row.
func (s *Store) List(ctx context.Context, limit int) ([]screenshot.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC`, selectColumns, s.table)
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	defer rows.Close()

	var out []screenshot.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan screenshot: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate screenshots: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (screenshot.Record, error) {
	var (
		r          screenshot.Record
		resolution string
		userAgent  string
	)
	err := row.Scan(
		&r.ID, &r.URL, &resolution, &userAgent, &r.Path, &r.BlobURI, &r.Hash,
		&r.Bytes, &r.Width, &r.Height, &r.CreatedAt, &r.DurationMs,
	)
	if err != nil {
		return screenshot.Record{}, err
	}
	r.Resolution = screenshot.Resolution(resolution)
	r.UserAgent = screenshot.UserAgent(userAgent)
	return r, nil
}

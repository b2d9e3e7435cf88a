package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema is the DDL for the blob table. Apply it with
// [Postgres.Migrate] or during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS murmur_blobs (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// DB is the subset of *pgxpool.Pool and *pgx.Conn used by [Postgres].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Store] backed by PostgreSQL.
type Postgres struct {
	db   DB
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing connection or pool. The caller is
// responsible for calling [Postgres.Migrate].
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: postgres: connect: %w", err)
	}
	p := &Postgres{db: pool, pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate executes [PostgresSchema].
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("store: postgres: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := p.db.QueryRow(ctx, "SELECT value FROM murmur_blobs WHERE key = $1", key).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: postgres: get %q: %w", key, err)
	}
	return b, nil
}

func (p *Postgres) Set(ctx context.Context, key string, blob []byte) error {
	const q = `
		INSERT INTO murmur_blobs (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if blob == nil {
		blob = []byte{}
	}
	if _, err := p.db.Exec(ctx, q, key, blob); err != nil {
		return fmt.Errorf("store: postgres: set %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool if this store opened it.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const createDraftTable = `CREATE TABLE IF NOT EXISTS draft_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresKV stores drafts in the draft_store table.
type PostgresKV struct {
	db dbtx
}

// NewPostgresKV wraps a pgx pool or transaction.
func NewPostgresKV(db dbtx) *PostgresKV {
	return &PostgresKV{db: db}
}

// EnsureSchema creates the backing table when missing.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createDraftTable); err != nil {
		return fmt.Errorf("draft: create table: %w", err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := p.db.QueryRow(ctx, `SELECT value FROM draft_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

func (p *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := p.db.Exec(ctx, `INSERT INTO draft_store (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, string(value))
	return err
}

func (p *PostgresKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := p.db.Exec(ctx, `DELETE FROM draft_store WHERE key = ANY($1)`, keys)
	return err
}

func (p *PostgresKV) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := p.db.QueryRow(ctx, `INSERT INTO draft_store (key, value, updated_at) VALUES ($1, '1', now())
		ON CONFLICT (key) DO UPDATE SET value = (draft_store.value::bigint + 1)::text, updated_at = now()
		RETURNING value::bigint`, key).Scan(&n)
	return n, err
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tracker tables if needed. Both the API server and
// the worker call it on startup, so either may come up first.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS tracker_meta (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	initialized BOOLEAN NOT NULL,
	name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	paused BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS roles (
	identity TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (identity, role)
);
CREATE TABLE IF NOT EXISTS whitelist (
	identity TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS assets (
	handle BIGINT PRIMARY KEY,
	owner TEXT NOT NULL,
	approved TEXT NOT NULL DEFAULT '',
	stage INTEGER NOT NULL,
	location TEXT,
	temperature INTEGER,
	humidity BIGINT,
	lab_analysis TEXT,
	processor TEXT,
	distributor TEXT,
	consumer TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	image TEXT NOT NULL,
	external_url TEXT,
	attributes JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_owner ON assets(owner);
CREATE TABLE IF NOT EXISTS transitions (
	handle BIGINT NOT NULL,
	seq INTEGER NOT NULL,
	from_stage INTEGER NOT NULL,
	to_stage INTEGER NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	updated_by TEXT NOT NULL,
	note TEXT,
	PRIMARY KEY (handle, seq)
);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

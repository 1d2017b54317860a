// Package repository implements the domain repositories on PostgreSQL.
package repository

import (
	"context"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/db"
)

// migrationLockID serializes schema migrations of replicas starting together.
const migrationLockID = 0x53544f52 // "STOR"

// PoolOption tunes the connection pool.
type PoolOption func(*pgxpool.Config)

// WithMaxConns caps the pool size. Non-positive values keep the pgx default.
func WithMaxConns(n int32) PoolOption {
	return func(cfg *pgxpool.Config) {
		if n > 0 {
			cfg.MaxConns = n
		}
	}
}

// WithApplicationName tags the connections in pg_stat_activity.
func WithApplicationName(name string) PoolOption {
	return func(cfg *pgxpool.Config) {
		if name != "" {
			cfg.ConnConfig.RuntimeParams["application_name"] = name
		}
	}
}

func poolConfig(databaseURL string, opts ...PoolOption) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	// Orders, coupons and product prices are NUMERIC.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

// NewPool connects to the storefront database and checks it is reachable.
func NewPool(ctx context.Context, databaseURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// RunMigrations applies the embedded schema in one transaction under an
// advisory lock. The schema is idempotent, so every replica may run it.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
			return fmt.Errorf("acquiring migration lock: %w", err)
		}
		_, err := tx.Exec(ctx, db.Schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

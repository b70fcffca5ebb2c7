// Package repository provides the PostgreSQL-backed record store.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores users, API keys and recipes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// PoolOptions bounds the connection pool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

var defaultPool = PoolOptions{MaxConns: 10, MinConns: 2, MaxConnLifetime: time.Hour}

func (o PoolOptions) apply(cfg *pgxpool.Config) {
	merged := defaultPool
	if o.MaxConns > 0 {
		merged.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		merged.MinConns = o.MinConns
	}
	if o.MaxConnLifetime > 0 {
		merged.MaxConnLifetime = o.MaxConnLifetime
	}

	cfg.MaxConns = merged.MaxConns
	cfg.MinConns = min(merged.MinConns, merged.MaxConns)
	cfg.MaxConnLifetime = merged.MaxConnLifetime
}

// New opens a pool with default sizing.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	return NewWithOptions(ctx, databaseURL, PoolOptions{})
}

// NewWithOptions opens a pool sized by opts and pings the server once.
func NewWithOptions(ctx context.Context, databaseURL string, opts PoolOptions) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	opts.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool exposes the pool to tests that manage schema and locks.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// collect scans every row with scan and closes rows. The result is never nil.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*T, error) {
		return scan(row)
	})
}

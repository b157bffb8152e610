// Package postgres builds the pgx connection pool shared by the durable alert
// store, with otel tracing and query logging/metrics hooks.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns int32

	// SlowQuery is the duration above which successful queries are logged.
	SlowQuery time.Duration
}

// NewPool parses databaseURL, installs the tracers and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.ConnConfig.Tracer = wrapQueryTracer(otelpgx.NewTracer(), opts.SlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Options tunes the pool. Zero values fall back to the defaults below.
type Options struct {
	MaxConns int32
	MinConns int32
}

// New creates a connection pool from a Postgres URL and pings it.
//
// The URL is passed straight to pgxpool.ParseConfig, so any libpq-style
// parameter (sslmode, application_name, pool_max_conns) works. Options
// override the pool sizes parsed from the URL.
//
// Every send holds one connection for the length of its fanout
// transaction, so MaxConns bounds concurrent sends per process.
func New(ctx context.Context, databaseURL string, opts Options, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	// Pool tuning:
	//
	// MaxConns (25, DB_MAX_CONNS): upper bound on open connections. API
	//   reads hold one briefly; a send holds one until its transaction
	//   commits. Keep the total across processes under the server's
	//   max_connections.
	//
	// MinConns (5, DB_MIN_CONNS): connections kept open while idle, so the
	//   first sends after a quiet period skip the TCP and auth handshake.
	//
	// MaxConnLifetime (1h): connections are recycled hourly, which picks
	//   up DNS changes and failovers behind the same host name.
	//
	// MaxConnIdleTime (20min): idle connections above MinConns are closed.
	//
	// HealthCheckPeriod (1min): idle connections are pinged and dropped if
	//   dead, before a query is handed one.
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 20 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Ping verifies credentials and network up front; a failed pool is
	// closed here so the caller never holds a half-open one.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	logger.Info("DB connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
	)
	return &DB{
		pool:   pool,
		logger: logger,
	}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

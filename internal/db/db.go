// Package db provides PostgreSQL persistence for the agent swarm.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/Leblepito/uAlgoTrade/internal/config"
)

// Pool is the subset of pgxpool.Pool the repository uses. pgxmock satisfies
// it in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// DB wraps the PostgreSQL connection pool with circuit breaker protection.
type DB struct {
	pool    Pool
	pgxPool *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

// New creates a database connection pool from configuration.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.PoolMin)
	poolCfg.MaxConns = int32(cfg.PoolMax)
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Int("pool_min", cfg.PoolMin).
		Int("pool_max", cfg.PoolMax).
		Msg("Database connection pool created")

	return &DB{
		pool:    pool,
		pgxPool: pool,
		breaker: newBreaker(),
	}, nil
}

// NewWithPool wraps an existing pool. Used by tests with pgxmock.
func NewWithPool(pool Pool) *DB {
	return &DB{pool: pool, breaker: newBreaker()}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "database",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pgxPool != nil {
		db.pgxPool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// Ping checks database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// query runs a read through the circuit breaker.
func (db *DB) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	res, err := db.breaker.Execute(func() (any, error) {
		return db.pool.Query(ctx, sql, args...)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, fmt.Errorf("database circuit breaker is open: %w", err)
		}
		return nil, err
	}
	return res.(pgx.Rows), nil
}

// exec runs a write through the circuit breaker.
func (db *DB) exec(ctx context.Context, sql string, args ...any) error {
	_, err := db.breaker.Execute(func() (any, error) {
		return db.pool.Exec(ctx, sql, args...)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return fmt.Errorf("database circuit breaker is open: %w", err)
		}
		return err
	}
	return nil
}

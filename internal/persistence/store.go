// Package persistence is the Postgres system of record for cards, mentions,
// sessions and operation telemetry. It is the only component that writes;
// all concurrency coordination happens through the revision column.
package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborlight/companion/pkg/logger"
)

// Store wraps a pgx connection pool with the card, mention and telemetry
// queries the memory components need.
type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewStore creates a Store over an existing pool.
func NewStore(pool *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{
		pool: pool,
		log:  log,
	}
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, connString string, log logger.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Connected to database")
	return pool, nil
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

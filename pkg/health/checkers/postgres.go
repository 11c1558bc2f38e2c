package checkers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker checks the health of a Postgres connection pool.
type PostgresChecker struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresChecker creates a new Postgres health checker.
// The name parameter allows customization of the check name.
// If name is empty, defaults to "postgres".
func NewPostgresChecker(pool *pgxpool.Pool, name string) *PostgresChecker {
	if name == "" {
		name = "postgres"
	}
	return &PostgresChecker{
		pool: pool,
		name: name,
	}
}

// Name returns the name of this health check.
func (p *PostgresChecker) Name() string {
	return p.name
}

// Check performs a ping against the database to verify connectivity.
func (p *PostgresChecker) Check(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

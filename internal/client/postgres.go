package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresConnectTimeout = 10 * time.Second

// PostgresClient holds the connection pool behind the analysis history.
type PostgresClient struct {
	Pool *pgxpool.Pool
}

// NewPostgresClient opens a pool against databaseURL and checks it answers.
// maxConns <= 0 keeps the pgx default.
func NewPostgresClient(ctx context.Context, databaseURL string, maxConns int32) (*PostgresClient, error) {
	poolCfg, err := ParsePostgresConfig(databaseURL, maxConns)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, postgresConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	c := &PostgresClient{Pool: pool}
	if err := c.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// ParsePostgresConfig parses databaseURL and applies the pool size.
func ParsePostgresConfig(databaseURL string, maxConns int32) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	return poolCfg, nil
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (c *PostgresClient) Ping(ctx context.Context) error {
	if c == nil || c.Pool == nil {
		return fmt.Errorf("postgres client not initialized")
	}
	if err := c.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// Close closes the pool.
func (c *PostgresClient) Close() {
	if c != nil && c.Pool != nil {
		c.Pool.Close()
	}
}

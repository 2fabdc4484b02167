package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// OpenPostgres connects a pgx pool and applies the postgres migrations.
func OpenPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := MigratePostgres(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("postgres initialized")
	}
	return pool, nil
}

package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"drainvoice/internal/logger"
)

// NewPool builds the pool for the remote invoice database. Connections are
// made lazily so the service can start while the database is unreachable;
// callers that need a live connection should Ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("database")
	log.Info().Str("host", config.ConnConfig.Host).Str("database", config.ConnConfig.Database).Msg("Database pool created")

	return pool, nil
}

// ClosePool closes pool if it is open.
func ClosePool(pool *pgxpool.Pool) {
	if pool == nil {
		return
	}
	pool.Close()
	log := logger.WithComponent("database")
	log.Info().Msg("Database disconnected")
}

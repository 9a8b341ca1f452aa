package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/config"
)

const (
	connectAttempts = 5
	connectBackoff  = time.Second
)

// NewPostgresPool creates a PostgreSQL pool and waits until it answers a ping.
// The database container often starts after the API in compose setups, so the
// ping is retried with a linear backoff.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	err = retry(ctx, log, "postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", cfg.MaxDBConns).
		Str("host", poolCfg.ConnConfig.Host).
		Msg("PostgreSQL connected")

	return pool, nil
}

func retry(ctx context.Context, log zerolog.Logger, name string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn().Err(err).Str("backend", name).Int("attempt", attempt).Msg("Connection failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * connectBackoff):
		}
	}
	return err
}

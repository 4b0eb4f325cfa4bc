package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresArchive struct {
	pool *pgxpool.Pool
}

func NewPostgresArchive(ctx context.Context, databaseURL string, maxConns int32) (*PostgresArchive, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	archive := &PostgresArchive{pool: pool}
	if err := archive.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := archive.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return archive, nil
}

func (archive *PostgresArchive) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS glucose_readings (
  id BIGSERIAL PRIMARY KEY,
  received_at TIMESTAMPTZ NOT NULL,
  value DOUBLE PRECISION NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_glucose_readings_received_at ON glucose_readings(received_at DESC);
`

	_, err := archive.pool.Exec(ctx, schema)
	return err
}

func (archive *PostgresArchive) Name() string {
	return "postgres"
}

func (archive *PostgresArchive) Write(ctx context.Context, reading Reading) error {
	const query = `INSERT INTO glucose_readings (received_at, value) VALUES ($1, $2)`

	if _, err := archive.pool.Exec(ctx, query, reading.Timestamp, reading.Value); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (archive *PostgresArchive) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return archive.pool.Ping(pingCtx)
}

func (archive *PostgresArchive) Close() {
	archive.pool.Close()
}

var _ ReadingSink = (*PostgresArchive)(nil)

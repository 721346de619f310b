package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferralab/prepcore/internal/config"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// EnsureSchema creates the run-history tables when they are missing. The
// controller owns its schema; there is no separate migration tooling on the
// lab machines.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id UUID PRIMARY KEY,
			specimen TEXT NOT NULL,
			source_slot TEXT NOT NULL,
			dest_slot TEXT,
			recipe TEXT NOT NULL,
			state TEXT NOT NULL,
			reason TEXT,
			error TEXT,
			polish_zero_mm DOUBLE PRECISION,
			enqueued_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS job_transitions (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES jobs(id),
			from_state TEXT,
			to_state TEXT NOT NULL,
			reason TEXT,
			error TEXT,
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_measurements (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES jobs(id),
			iteration INT NOT NULL,
			width_px DOUBLE PRECISION NOT NULL,
			width_um DOUBLE PRECISION NOT NULL,
			at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS telemetry (
			id BIGSERIAL PRIMARY KEY,
			at TIMESTAMPTZ NOT NULL,
			voltage DOUBLE PRECISION NOT NULL,
			current DOUBLE PRECISION NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			x DOUBLE PRECISION NOT NULL,
			y DOUBLE PRECISION NOT NULL,
			z DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_transitions_job ON job_transitions (job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_at ON telemetry (at)`,
	}

	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

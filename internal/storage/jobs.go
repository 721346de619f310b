package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/workflow"
)

// JobRecorder persists job lifecycle data. It implements workflow.Recorder;
// the engine logs and continues when a write fails, so the database never
// stalls a running specimen.
type JobRecorder struct {
	client *PostgresClient
	logger *zap.Logger
}

func NewJobRecorder(client *PostgresClient, logger *zap.Logger) *JobRecorder {
	return &JobRecorder{client: client, logger: logger}
}

func (r *JobRecorder) JobEnqueued(ctx context.Context, job workflow.JobView) error {
	_, err := r.client.pool.Exec(ctx, `
		INSERT INTO jobs (id, specimen, source_slot, recipe, state, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.Specimen, job.SourceSlot, job.Recipe, string(job.State), job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *JobRecorder) JobTransition(ctx context.Context, job workflow.JobView, event workflow.Event) error {
	tx, err := r.client.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET state = $2, reason = $3, error = $4, dest_slot = $5,
		    polish_zero_mm = $6, started_at = $7, finished_at = $8
		WHERE id = $1
	`, job.ID, string(job.State), string(job.Reason), job.Err, job.DestSlot,
		job.PolishZero, nullTime(job.StartedAt), nullTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_transitions (job_id, from_state, to_state, reason, error, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, string(event.From), string(event.To), string(event.Reason), event.Err, event.At)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}

	// Measurements only accumulate; persist them once the job settles.
	if job.State.Terminal() {
		for _, m := range job.Measurements {
			_, err = tx.Exec(ctx, `
				INSERT INTO job_measurements (job_id, iteration, width_px, width_um, at)
				VALUES ($1, $2, $3, $4, $5)
			`, job.ID, m.Iteration, m.WidthPx, m.WidthUm, m.At)
			if err != nil {
				return fmt.Errorf("failed to insert measurement: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

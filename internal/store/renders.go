// Package store persists render records in Postgres.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orbit/internal/httpkit"
	"orbit/internal/pkg/errors"
	"orbit/internal/render"
)

// RenderStore implements render.RecordStore on a pgx pool.
type RenderStore struct {
	pool *pgxpool.Pool
}

// NewRenderStore builds a RenderStore.
func NewRenderStore(pool *pgxpool.Pool) *RenderStore {
	return &RenderStore{pool: pool}
}

// InitSchema creates the renders table when missing. Idempotent.
func (s *RenderStore) InitSchema(ctx context.Context) error {
	const op = "store.RenderStore.InitSchema"

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS renders (
			job_id        TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL DEFAULT '',
			state         TEXT NOT NULL,
			progress      DOUBLE PRECISION NOT NULL DEFAULT 0,
			message       TEXT NOT NULL DEFAULT '',
			axis          TEXT NOT NULL DEFAULT '',
			format        TEXT NOT NULL DEFAULT '',
			download_name TEXT NOT NULL DEFAULT '',
			mime_type     TEXT NOT NULL DEFAULT '',
			object_key    TEXT NOT NULL DEFAULT '',
			size_bytes    BIGINT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_renders_owner ON renders (owner_id);
	`)
	if err != nil {
		return errors.Wrap(err, op, "create renders schema")
	}
	return nil
}

// Create inserts the initial row for a job.
func (s *RenderStore) Create(ctx context.Context, rec render.RenderRecord) error {
	const op = "store.RenderStore.Create"

	_, err := s.pool.Exec(ctx, `
		INSERT INTO renders (job_id, owner_id, state, progress, message, axis, format, download_name, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.JobID, rec.Owner, string(rec.State), rec.Progress, rec.Message,
		rec.Axis, rec.Format, rec.DownloadName, rec.MimeType)
	if httpkit.IsUniqueViolation(err) {
		return errors.New(errors.CodeConflict, "render record already exists").
			WithOp(op).WithField("job_id", rec.JobID)
	}
	if err != nil {
		return errors.Wrap(err, op, "insert render record")
	}
	return nil
}

// UpdateProgress refreshes progress and message for a running job.
func (s *RenderStore) UpdateProgress(ctx context.Context, jobID string, progress float64, message string) error {
	const op = "store.RenderStore.UpdateProgress"

	_, err := s.pool.Exec(ctx, `
		UPDATE renders SET progress = $2, message = $3, updated_at = now()
		WHERE job_id = $1 AND state = 'running'`,
		jobID, progress, message)
	if err != nil {
		return errors.Wrap(err, op, "update progress")
	}
	return nil
}

// MarkFinished records the stored artifact for a completed job.
func (s *RenderStore) MarkFinished(ctx context.Context, jobID string, objectKey string, sizeBytes int64) error {
	const op = "store.RenderStore.MarkFinished"

	_, err := s.pool.Exec(ctx, `
		UPDATE renders
		SET state = 'finished', progress = 100, message = 'Render complete.',
		    object_key = $2, size_bytes = $3, updated_at = now()
		WHERE job_id = $1`,
		jobID, objectKey, sizeBytes)
	if err != nil {
		return errors.Wrap(err, op, "mark finished")
	}
	return nil
}

// MarkError records a failed job.
func (s *RenderStore) MarkError(ctx context.Context, jobID string, message string) error {
	const op = "store.RenderStore.MarkError"

	_, err := s.pool.Exec(ctx, `
		UPDATE renders SET state = 'error', message = $2, updated_at = now()
		WHERE job_id = $1`,
		jobID, message)
	if err != nil {
		return errors.Wrap(err, op, "mark error")
	}
	return nil
}

// MarkCancelled records a cancelled job.
func (s *RenderStore) MarkCancelled(ctx context.Context, jobID string) error {
	const op = "store.RenderStore.MarkCancelled"

	_, err := s.pool.Exec(ctx, `
		UPDATE renders SET state = 'cancelled', message = 'Render cancelled by user.', updated_at = now()
		WHERE job_id = $1`,
		jobID)
	if err != nil {
		return errors.Wrap(err, op, "mark cancelled")
	}
	return nil
}

// Get loads one record, returning (nil, nil) when absent.
func (s *RenderStore) Get(ctx context.Context, jobID string) (*render.RenderRecord, error) {
	const op = "store.RenderStore.Get"

	row := s.pool.QueryRow(ctx, `
		SELECT job_id, owner_id, state, progress, message, axis, format,
		       download_name, mime_type, object_key, size_bytes, created_at, updated_at
		FROM renders WHERE job_id = $1`,
		jobID)

	var rec render.RenderRecord
	var state string
	var createdAt, updatedAt time.Time
	err := row.Scan(&rec.JobID, &rec.Owner, &state, &rec.Progress, &rec.Message,
		&rec.Axis, &rec.Format, &rec.DownloadName, &rec.MimeType,
		&rec.ObjectKey, &rec.SizeBytes, &createdAt, &updatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	// A missing table just means the schema was never initialized; treat
	// it like an absent record instead of surfacing a 500.
	if httpkit.IsUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, op, "load render record")
	}

	rec.State = render.State(state)
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

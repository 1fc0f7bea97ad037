package render

import (
	"context"
	"time"
)

// RenderRecord is the durable row for a job. Records outlive the in-memory
// registry so owned artifacts stay addressable after the process restarts.
type RenderRecord struct {
	JobID        string
	Owner        string
	State        State
	Progress     float64
	Message      string
	Axis         string
	Format       string
	DownloadName string
	MimeType     string
	ObjectKey    string
	SizeBytes    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecordStore persists render records. All writes are best-effort from the
// orchestrator's point of view; the in-memory registry stays authoritative
// for live jobs.
type RecordStore interface {
	Create(ctx context.Context, rec RenderRecord) error
	UpdateProgress(ctx context.Context, jobID string, progress float64, message string) error
	MarkFinished(ctx context.Context, jobID string, objectKey string, sizeBytes int64) error
	MarkError(ctx context.Context, jobID string, message string) error
	MarkCancelled(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (*RenderRecord, error)
}

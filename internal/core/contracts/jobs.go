package contracts

import (
	"context"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

// JobStatusFetcher pulls the current status of one job.
type JobStatusFetcher interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// SnapshotStore keeps the latest projection per job outside the process.
type SnapshotStore interface {
	// SaveProjection stores the projection and marks the job as recently active
	SaveProjection(ctx context.Context, p domain.Projection) error
	// LoadProjection returns the stored projection or false when absent
	LoadProjection(ctx context.Context, jobID string) (domain.Projection, bool, error)
	// RecentJobs returns job ids updated within the window, newest first
	RecentJobs(ctx context.Context, limit int64) ([]string, error)
}

// EventJournal records inbound envelopes for later inspection.
type EventJournal interface {
	Append(ctx context.Context, env domain.Envelope) error
	Tail(ctx context.Context, count int64) ([]domain.Envelope, error)
}

// NotificationSink receives user-facing notifications.
type NotificationSink interface {
	Notify(n domain.Notification)
}

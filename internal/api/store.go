package api

import (
	"context"

	"cardmint/internal/queue"
)

// JobStore abstracts the store operations the HTTP API needs.
type JobStore interface {
	Create(ctx context.Context, input queue.NewJob) (*queue.ScanJob, error)
	GetByID(ctx context.Context, id string) (*queue.ScanJob, error)
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.ScanJob, error)
	ListRecent(ctx context.Context, limit int) ([]*queue.ScanJob, error)
	History(ctx context.Context, id string) ([]queue.JobEvent, error)
	QueueDepth(ctx context.Context) (int, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Health(ctx context.Context) (queue.HealthSummary, error)

	LockFront(ctx context.Context, id string) error
	MarkBackReady(ctx context.Context, id string) error
	LockCanonical(ctx context.Context, id string) error
	AcceptWithTruthCoreAndInventory(ctx context.Context, id string, truth queue.TruthCore, inventory queue.InventoryResult, timingsDelta queue.Timings) error
	AcceptForBaselineOnly(ctx context.Context, id string, truth queue.TruthCore) error
	ResetForRetry(ctx context.Context, id string) (queue.Status, error)
	ReleaseJob(ctx context.Context, id string) error
}

// Waker is notified when new work is admitted.
type Waker interface {
	Wake()
}

var _ JobStore = (*queue.Store)(nil)

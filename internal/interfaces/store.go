package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by JobStore lookups for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStore defines the durable job record operations needed by the
// orchestrator. Status transitions must be atomic compare-and-set
// writes against the store, not in-process locks: workers claiming the
// same job may run in different processes.
type JobStore interface {
	// CreateJob inserts a new job record.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID, or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)

	// ClaimJob atomically transitions a job from StatusPending to
	// StatusProcessing. It returns false when the job is in any other
	// state, which is how duplicate queue deliveries are detected.
	ClaimJob(ctx context.Context, id string) (bool, error)

	// MarkCompleted atomically transitions a processing job to
	// StatusCompleted, recording the result path and completion time.
	MarkCompleted(ctx context.Context, id, resultPath string) error

	// MarkFailed atomically transitions a processing job to
	// StatusFailed, recording the error message and completion time.
	MarkFailed(ctx context.Context, id, errorMessage string) error

	// ListJobs returns the most recent jobs, newest first.
	ListJobs(ctx context.Context, limit int) ([]*Job, error)

	// ListStalePending returns pending jobs that have not been updated
	// for at least olderThan. Used by the sweeper to requeue work that
	// was created but never delivered.
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*Job, error)
}

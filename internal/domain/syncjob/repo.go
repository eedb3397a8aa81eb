package syncjob

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("sync job not found")
	// ErrStatusConflict is returned by UpdateStatusIf when the stored status
	// no longer matches the expected one, i.e. another scheduler won the claim.
	ErrStatusConflict = errors.New("job status changed concurrently")
)

type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	Update(ctx context.Context, j *Job) error
	// UpdateStatusIf atomically moves the job from one status to another. It
	// fails with ErrStatusConflict when the stored status differs from `from`,
	// which is how two schedulers are kept from claiming the same job.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status) error
	// ListDue returns jobs eligible to run at `now` (pending, or failed with
	// retry budget left and backoff elapsed), capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Job, error)
	// UpdateProgress persists the job's progress counters and error list.
	UpdateProgress(ctx context.Context, j *Job) error
}

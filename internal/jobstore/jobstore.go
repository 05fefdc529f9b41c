// Package jobstore persists conversion jobs and enforces their state machine.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrJobTerminal is returned by Claim when the job is already DONE or FAILED
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrJobLeased is matched by *LeasedError
	ErrJobLeased = errors.New("job is leased by another worker")

	// ErrLeaseLost is returned when a worker no longer owns the job it is updating
	ErrLeaseLost = errors.New("job lease lost")
)

// Store is the durable record of conversion jobs. Every write enforces the
// status state machine; implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	List(ctx context.Context, filter Filter) ([]domain.Job, error)

	// Claim moves the job to PROCESSING for workerID and counts the attempt
	Claim(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*domain.Job, error)
	ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error
	Complete(ctx context.Context, id uuid.UUID, workerID, outputKey string) error
	Fail(ctx context.Context, id uuid.UUID, workerID string, code domain.ErrorCode) error
	ReleaseForRetry(ctx context.Context, id uuid.UUID, workerID string, code domain.ErrorCode) error
	ListStale(ctx context.Context, status domain.Status, olderThan time.Duration, limit int) ([]domain.Job, error)
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)

// LeasedError is returned by Claim when another worker holds a live lease
type LeasedError struct {
	ClaimedBy string
	Until     time.Time
}

func (e *LeasedError) Error() string {
	return fmt.Sprintf("job leased by %s until %s", e.ClaimedBy, e.Until.Format(time.RFC3339))
}

func (e *LeasedError) Is(target error) bool {
	return target == ErrJobLeased
}

// Filter selects an owner's jobs for listing
type Filter struct {
	OwnerID  string
	Status   domain.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset position of the last row of a page
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/google/uuid"
)

// Memory is an in-process job store with the same transition rules as Postgres.
// It backs the pipeline tests and single-process development runs.
type Memory struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
	now  func() time.Time
}

// NewMemory creates an empty in-memory job store
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[uuid.UUID]*domain.Job),
		now:  time.Now,
	}
}

// SetClock replaces the time source; used by tests that exercise leases
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return &duplicateKeyError{id: job.ID}
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) List(ctx context.Context, filter Filter) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []domain.Job
	for _, job := range m.jobs {
		if job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !before(job, filter.Cursor) {
			continue
		}
		jobs = append(jobs, *job.Clone())
	}

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() > jobs[k].ID.String()
	})

	if len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

// before reports whether job sorts strictly after the cursor position in
// (created_at DESC, id DESC) order
func before(job *domain.Job, c *Cursor) bool {
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.ID.String() < c.JobID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}

func (m *Memory) Claim(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return job.Clone(), ErrJobTerminal
	}

	now := m.now()
	if job.Status == domain.JobStatusProcessing && job.ClaimedBy != "" &&
		job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.Before(now) {
		return nil, &LeasedError{ClaimedBy: job.ClaimedBy, Until: *job.LeaseExpiresAt}
	}

	expires := now.Add(lease)
	job.Status = domain.JobStatusProcessing
	job.Attempts++
	job.ClaimedBy = workerID
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	return job.Clone(), nil
}

func (m *Memory) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.owned(id, workerID)
	if !ok {
		return ErrLeaseLost
	}
	expires := m.now().Add(lease)
	job.LeaseExpiresAt = &expires
	return nil
}

func (m *Memory) Complete(ctx context.Context, id uuid.UUID, workerID, outputKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.owned(id, workerID)
	if !ok {
		return m.settled(id, domain.JobStatusDone, func(j *domain.Job) bool { return j.OutputKey == outputKey })
	}

	job.Status = domain.JobStatusDone
	job.OutputKey = outputKey
	job.Error = ""
	job.LastAttemptError = ""
	job.ClaimedBy = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Fail(ctx context.Context, id uuid.UUID, workerID string, code domain.ErrorCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status.IsTerminal() || job.ClaimedBy != workerID {
		return m.settled(id, domain.JobStatusFailed, func(j *domain.Job) bool { return j.Error == code })
	}

	job.Status = domain.JobStatusFailed
	job.Error = code
	job.OutputKey = ""
	job.ClaimedBy = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ReleaseForRetry(ctx context.Context, id uuid.UUID, workerID string, code domain.ErrorCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.owned(id, workerID)
	if !ok {
		return ErrLeaseLost
	}
	job.LastAttemptError = code
	job.ClaimedBy = ""
	job.LeaseExpiresAt = nil
	job.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ListStale(ctx context.Context, status domain.Status, olderThan time.Duration, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-olderThan)

	var jobs []domain.Job
	for _, job := range m.jobs {
		if job.Status != status || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		if job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.Before(now) {
			continue
		}
		jobs = append(jobs, *job.Clone())
	}

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].UpdatedAt.Before(jobs[k].UpdatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// owned returns the job if it is PROCESSING and claimed by workerID
func (m *Memory) owned(id uuid.UUID, workerID string) (*domain.Job, bool) {
	job, ok := m.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing || job.ClaimedBy != workerID || workerID == "" {
		return nil, false
	}
	return job, true
}

// settled resolves an update that matched no row the way Postgres does:
// idempotent success when the job already sits in the requested state
func (m *Memory) settled(id uuid.UUID, status domain.Status, same func(*domain.Job) bool) error {
	job, ok := m.jobs[id]
	switch {
	case !ok:
		return domain.ErrJobNotFound
	case job.Status == status && same(job):
		return nil
	case job.Status.IsTerminal():
		return ErrJobTerminal
	default:
		return ErrLeaseLost
	}
}

type duplicateKeyError struct {
	id uuid.UUID
}

func (e *duplicateKeyError) Error() string {
	return "job " + e.id.String() + " already exists"
}

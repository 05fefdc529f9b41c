package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// jobColumns maps nullable columns onto the zero values the domain expects
const jobColumns = `
	id, owner_id, input_key,
	COALESCE(output_key, '') AS output_key,
	status,
	COALESCE(error, '') AS error,
	attempts,
	COALESCE(last_attempt_error, '') AS last_attempt_error,
	COALESCE(claimed_by, '') AS claimed_by,
	lease_expires_at, created_at, updated_at`

// Postgres is the PostgreSQL-backed job store
type Postgres struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a new Postgres job store
func NewPostgres(client *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

// Create inserts a new PENDING job
func (s *Postgres) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO conversion_jobs (
			id, owner_id, input_key, status, attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, 0, $5, $6
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.InputKey,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a job scoped by its owner
func (s *Postgres) Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE id = $1 AND owner_id = $2`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetByID retrieves a job regardless of owner; used by the worker pool
func (s *Postgres) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return getByID(ctx, s.db, id)
}

func getByID(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE id = $1`

	var job domain.Job
	if err := sqlx.GetContext(ctx, q, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// List returns one page of an owner's jobs, newest first.
// It fetches PageSize+1 rows so the caller can tell whether more exist.
func (s *Postgres) List(ctx context.Context, filter Filter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE owner_id = $1`
	args := []interface{}{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// Claim takes exclusive ownership of a job for one delivery attempt.
// PENDING jobs and PROCESSING jobs without a live lease are flipped to PROCESSING
// in a single conditional update, so two workers can never both win.
func (s *Postgres) Claim(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*domain.Job, error) {
	query := `
		UPDATE conversion_jobs
		SET status = $1,
		    attempts = attempts + 1,
		    claimed_by = $2,
		    lease_expires_at = NOW() + ($3::bigint * INTERVAL '1 millisecond'),
		    updated_at = NOW()
		WHERE id = $4
		  AND (
		    status = $5
		    OR (status = $1 AND (claimed_by IS NULL OR lease_expires_at IS NULL OR lease_expires_at < NOW()))
		  )
		RETURNING ` + jobColumns

	var claimed domain.Job
	var current *domain.Job

	err := s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &claimed, query,
			domain.JobStatusProcessing, workerID, lease.Milliseconds(), id, domain.JobStatusPending)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to claim job: %w", err)
		}

		current, err = getByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return ErrJobTerminal
		}

		leased := &LeasedError{ClaimedBy: current.ClaimedBy}
		if current.LeaseExpiresAt != nil {
			leased.Until = *current.LeaseExpiresAt
		}
		return leased
	})

	if err != nil {
		if errors.Is(err, ErrJobTerminal) {
			return current, err
		}
		if errors.Is(err, ErrJobLeased) {
			s.logger.Warn("Failed to claim job - leased by another worker",
				slog.String("job_id", id.String()),
				slog.String("worker_id", workerID),
			)
		}
		return nil, err
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", id.String()),
		slog.String("worker_id", workerID),
		slog.Int("attempt", claimed.Attempts),
	)

	return &claimed, nil
}

// ExtendLease pushes the lease of a job still owned by workerID
func (s *Postgres) ExtendLease(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) error {
	query := `
		UPDATE conversion_jobs
		SET lease_expires_at = NOW() + ($1::bigint * INTERVAL '1 millisecond')
		WHERE id = $2 AND status = $3 AND claimed_by = $4
	`

	result, err := s.db.ExecContext(ctx, query, lease.Milliseconds(), id, domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to extend job lease: %w", err)
	}

	return requireRow(result, ErrLeaseLost)
}

// Complete moves a claimed job to DONE and clears every error field.
// Completing an already DONE job with the same output key is a no-op.
func (s *Postgres) Complete(ctx context.Context, id uuid.UUID, workerID, outputKey string) error {
	query := `
		UPDATE conversion_jobs
		SET status = $1,
		    output_key = $2,
		    error = NULL,
		    last_attempt_error = NULL,
		    claimed_by = NULL,
		    lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND claimed_by = $5
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusDone, outputKey, id, domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	if err := requireRow(result, ErrLeaseLost); err == nil {
		s.logTransition(id, domain.JobStatusDone, "")
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.JobStatusDone && current.OutputKey == outputKey {
		return nil
	}
	if current.Status.IsTerminal() {
		return ErrJobTerminal
	}
	return ErrLeaseLost
}

// Fail moves a PENDING or PROCESSING job to FAILED with code.
// An empty workerID matches only jobs that are not currently claimed.
func (s *Postgres) Fail(ctx context.Context, id uuid.UUID, workerID string, code domain.ErrorCode) error {
	query := `
		UPDATE conversion_jobs
		SET status = $1,
		    error = $2,
		    output_key = NULL,
		    claimed_by = NULL,
		    lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $3
		  AND status IN ($4, $5)
		  AND claimed_by IS NOT DISTINCT FROM NULLIF($6::text, '')
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, code, id, domain.JobStatusPending, domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	if err := requireRow(result, ErrLeaseLost); err == nil {
		s.logTransition(id, domain.JobStatusFailed, code)
		return nil
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.JobStatusFailed && current.Error == code {
		return nil
	}
	if current.Status.IsTerminal() {
		return ErrJobTerminal
	}
	return ErrLeaseLost
}

// ReleaseForRetry keeps the job PROCESSING, records the retryable fault and drops
// the lease so the delayed redelivery can claim it again.
func (s *Postgres) ReleaseForRetry(ctx context.Context, id uuid.UUID, workerID string, code domain.ErrorCode) error {
	query := `
		UPDATE conversion_jobs
		SET last_attempt_error = $1,
		    claimed_by = NULL,
		    lease_expires_at = NULL,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3 AND claimed_by = $4
	`

	result, err := s.db.ExecContext(ctx, query, code, id, domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to release job for retry: %w", err)
	}

	return requireRow(result, ErrLeaseLost)
}

// ListStale returns jobs in status whose updated_at is older than olderThan and
// which hold no live lease. These are orphaned submissions or abandoned claims.
func (s *Postgres) ListStale(ctx context.Context, status domain.Status, olderThan time.Duration, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM conversion_jobs
		WHERE status = $1
		  AND updated_at < NOW() - ($2::bigint * INTERVAL '1 millisecond')
		  AND (lease_expires_at IS NULL OR lease_expires_at < NOW())
		ORDER BY updated_at ASC
		LIMIT $3
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, status, olderThan.Milliseconds(), limit); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	return jobs, nil
}

func (s *Postgres) logTransition(id uuid.UUID, status domain.Status, code domain.ErrorCode) {
	s.logger.Info("Job status updated",
		slog.String("job_id", id.String()),
		slog.String("status", string(status)),
		slog.String("error", string(code)),
	)
}

func requireRow(result sql.Result, errNoRows error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errNoRows
	}
	return nil
}

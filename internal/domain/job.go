package domain

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Job represents one video -> audio conversion request and its tracked state
type Job struct {
	ID        uuid.UUID `db:"id"`
	OwnerID   string    `db:"owner_id"`
	InputKey  string    `db:"input_key"`
	OutputKey string    `db:"output_key"`
	Status    Status    `db:"status"`
	Error     ErrorCode `db:"error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	// Retry bookkeeping, owned by the worker pool
	Attempts         int        `db:"attempts"`
	LastAttemptError ErrorCode  `db:"last_attempt_error"`
	ClaimedBy        string     `db:"claimed_by"`
	LeaseExpiresAt   *time.Time `db:"lease_expires_at"`
}

// NewJob builds a PENDING job for ownerID with a fresh id and a namespaced input key
func NewJob(ownerID, filename string, now time.Time) *Job {
	id := uuid.New()
	return &Job{
		ID:        id,
		OwnerID:   ownerID,
		InputKey:  InputKey(ownerID, id, filename),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInvariants verifies the field-level invariants of a persisted job
func (j *Job) CheckInvariants() error {
	if !j.Status.Valid() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, j.Status)
	}
	if (j.OutputKey != "") != (j.Status == JobStatusDone) {
		return fmt.Errorf("job %s: output_key must be set iff status is DONE (status=%s)", j.ID, j.Status)
	}
	if (j.Error != "") != (j.Status == JobStatusFailed) {
		return fmt.Errorf("job %s: error must be set iff status is FAILED (status=%s)", j.ID, j.Status)
	}
	return nil
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	c := *j
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}

// InputKey derives the object-store key of an uploaded video.
// The job id segment keeps concurrent uploads of the same filename apart.
func InputKey(ownerID string, jobID uuid.UUID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := strings.ToLower(path.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = "video"
	}
	if ext == "." {
		ext = ""
	}
	return fmt.Sprintf("videos/%s/%s/%s%s", ownerID, jobID, stem, ext)
}

// OutputKey derives the object-store key of the converted audio
func OutputKey(ownerID string, jobID uuid.UUID) string {
	return fmt.Sprintf("audio/%s/%s%s", ownerID, jobID, OutputExtension)
}

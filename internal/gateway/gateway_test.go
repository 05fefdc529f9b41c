package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/video2audio/internal/domain"
	"github.com/cuongbtq/video2audio/internal/jobstore"
	"github.com/cuongbtq/video2audio/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	jobs    *jobstore.Memory
	objects *objectstore.Memory
	gateway *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:    jobstore.NewMemory(),
		objects: objectstore.NewMemory(),
	}
	f.gateway = New(f.jobs, f.objects, 4, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

// doneJob runs a job through the store and stores its output
func (f *fixture) doneJob(t *testing.T, owner, audio string) *domain.Job {
	t.Helper()
	ctx := context.Background()

	job := domain.NewJob(owner, "clip.mp4", time.Now())
	require.NoError(t, f.jobs.Create(ctx, job))
	_, err := f.jobs.Claim(ctx, job.ID, "w1", time.Minute)
	require.NoError(t, err)

	key := domain.OutputKey(owner, job.ID)
	require.NoError(t, f.objects.Put(ctx, key, strings.NewReader(audio), int64(len(audio)), domain.OutputContentType))
	require.NoError(t, f.jobs.Complete(ctx, job.ID, "w1", key))
	return job
}

func TestGetStatus_OwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := domain.NewJob("42", "clip.mp4", time.Now())
	require.NoError(t, f.jobs.Create(ctx, job))

	got, err := f.gateway.GetStatus(ctx, job.ID.String(), "42")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)

	_, err = f.gateway.GetStatus(ctx, job.ID.String(), "43")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = f.gateway.GetStatus(ctx, "not-a-uuid", "42")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestDownloadOutput_NotReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := domain.NewJob("42", "clip.mp4", time.Now())
	require.NoError(t, f.jobs.Create(ctx, job))
	_, err := f.jobs.Claim(ctx, job.ID, "w1", time.Minute)
	require.NoError(t, err)

	stream, err := f.gateway.DownloadOutput(ctx, job.ID.String(), "42")
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 0, f.objects.OpenReaders())
}

func TestDownloadOutput_StreamsInChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.doneJob(t, "42", "0123456789")

	stream, err := f.gateway.DownloadOutput(ctx, job.ID.String(), "42")
	require.NoError(t, err)
	assert.Equal(t, "audio/42/"+job.ID.String()+".mp3", stream.Key())

	var chunks []string
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), 4)
		chunks = append(chunks, string(chunk))
	}
	assert.Equal(t, "0123456789", strings.Join(chunks, ""))
	assert.Equal(t, 0, f.objects.OpenReaders(), "handle must be released at EOF")
}

func TestDownloadOutput_AbandonedStreamIsReleased(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.doneJob(t, "42", "0123456789")

	stream, err := f.gateway.DownloadOutput(ctx, job.ID.String(), "42")
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, f.objects.OpenReaders())

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, 0, f.objects.OpenReaders())

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDownloadOutput_WriteTo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.doneJob(t, "42", "audio-bytes")

	stream, err := f.gateway.DownloadOutput(ctx, job.ID.String(), "42")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := io.Copy(&buf, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(len("audio-bytes")), n)
	assert.Equal(t, "audio-bytes", buf.String())
	assert.Equal(t, 0, f.objects.OpenReaders())
}

func TestDownloadOutput_StorageErrorsPropagate(t *testing.T) {
	tests := []struct {
		name string
		kind error
	}{
		{"not found", objectstore.ErrNotFound},
		{"permission", objectstore.ErrPermissionDenied},
		{"unavailable", objectstore.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			job := f.doneJob(t, "42", "audio")
			f.objects.FailNext("get", tt.kind, 1)

			_, err := f.gateway.DownloadOutput(ctx, job.ID.String(), "42")
			assert.ErrorIs(t, err, tt.kind)
			assert.NotErrorIs(t, err, ErrNotReady)
		})
	}
}

func TestDownloadOutput_WrongOwner(t *testing.T) {
	f := newFixture(t)
	job := f.doneJob(t, "42", "audio")

	_, err := f.gateway.DownloadOutput(context.Background(), job.ID.String(), "7")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestListJobs_Pagination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		job := domain.NewJob("42", "clip.mp4", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, f.jobs.Create(ctx, job))
	}

	first, err := f.gateway.ListJobs(ctx, "42", ListOptions{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Jobs, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.gateway.ListJobs(ctx, "42", ListOptions{PageSize: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Jobs, 2)
	assert.True(t, second.Jobs[0].CreatedAt.Before(first.Jobs[1].CreatedAt))

	third, err := f.gateway.ListJobs(ctx, "42", ListOptions{PageSize: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, third.Jobs, 1)
	assert.Empty(t, third.NextCursor)

	other, err := f.gateway.ListJobs(ctx, "7", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, other.Jobs)
}

func TestListJobs_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.gateway.ListJobs(context.Background(), "42", ListOptions{Cursor: "%%%"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.gateway.ListJobs(context.Background(), "42", ListOptions{Status: "RUNNING"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCursorRoundTrip(t *testing.T) {
	c := &jobstore.Cursor{
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC),
		JobID:     "7d8c4d5e-1a2b-4c3d-8e9f-0a1b2c3d4e5f",
	}

	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, c.JobID, decoded.JobID)

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

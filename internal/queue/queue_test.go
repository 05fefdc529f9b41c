package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	id := uuid.New()
	body, err := Encode(Message{JobID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"`+id.String()+`"}`, string(body))

	msg, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, id, msg.JobID)
}

func TestDecode_Malformed(t *testing.T) {
	bodies := []string{
		`not json`,
		`{}`,
		`{"job_id":"abc"}`,
		`{"job_id":"00000000-0000-0000-0000-000000000000"}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			_, err := Decode([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}

	_, err := Encode(Message{})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func receive(t *testing.T, deliveries <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-deliveries:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemory_PublishConsumeAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemory()
	id := uuid.New()
	require.NoError(t, q.Publish(ctx, Message{JobID: id}))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	msg, err := Decode(d.Body())
	require.NoError(t, err)
	assert.Equal(t, id, msg.JobID)
	assert.False(t, d.Redelivered())
	require.NoError(t, d.Ack())

	stats := q.Stats()
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Acked)
	assert.Equal(t, 0, q.Len())
}

func TestMemory_NackRequeueRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemory()
	require.NoError(t, q.Publish(ctx, Message{JobID: uuid.New()}))

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	first := receive(t, deliveries)
	require.NoError(t, first.Nack(true))

	second := receive(t, deliveries)
	assert.True(t, second.Redelivered())
	assert.Equal(t, first.Body(), second.Body())
	require.NoError(t, second.Nack(false))

	stats := q.Stats()
	assert.Equal(t, 1, stats.Requeued)
	assert.Equal(t, 1, stats.Dropped)
}

func TestMemory_PublishDelayed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemory()
	require.NoError(t, q.PublishDelayed(ctx, Message{JobID: uuid.New()}, 50*time.Millisecond))
	assert.Equal(t, 0, q.Len())

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	start := time.Now()
	d := receive(t, deliveries)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.NoError(t, d.Ack())
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, q.Stats().Delays)
}

func TestMemory_ConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewMemory()

	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemory_Closed(t *testing.T) {
	q := NewMemory()
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish(context.Background(), Message{JobID: uuid.New()}), ErrClosed)
	assert.ErrorIs(t, q.HealthCheck(context.Background()), ErrClosed)
	_, err := q.Consume(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(&Config{Driver: "kafka"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)

	q, err := New(&Config{Driver: DriverMemory}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, q)
}

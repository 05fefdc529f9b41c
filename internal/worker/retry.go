package worker

import (
	"context"
	"time"
)

// Action is how a delivery is settled once the job store is up to date
type Action int

const (
	// ActionAck removes the delivery: the job reached a terminal state, or
	// there is nothing left to do for it
	ActionAck Action = iota

	// ActionRetry republishes the message after Delay, then acks
	ActionRetry

	// ActionRequeue hands the delivery back to the broker immediately
	ActionRequeue
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionRequeue:
		return "requeue"
	default:
		return "ack"
	}
}

// Outcome is the tagged result of handling one delivery
type Outcome struct {
	Action Action
	Delay  time.Duration
	Reason string
}

func ack(reason string) Outcome {
	return Outcome{Action: ActionAck, Reason: reason}
}

func retry(delay time.Duration, reason string) Outcome {
	return Outcome{Action: ActionRetry, Delay: delay, Reason: reason}
}

func requeue(reason string) Outcome {
	return Outcome{Action: ActionRequeue, Reason: reason}
}

// backoff returns base * 2^(attempt-1), capped at ceiling
func backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

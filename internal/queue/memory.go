package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryStats counts what happened to messages on a Memory queue
type MemoryStats struct {
	Published int
	Acked     int
	Requeued  int
	Dropped   int
	Delays    []time.Duration
}

// Memory is an in-process broker. Nack with requeue redelivers the message and
// delayed publishes become visible after their delay.
type Memory struct {
	mu      sync.Mutex
	pending []memoryMessage
	notify  chan struct{}
	closed  bool
	stats   MemoryStats
}

type memoryMessage struct {
	body        []byte
	redelivered bool
}

// NewMemory creates an empty in-memory queue
func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (q *Memory) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.stats.Published++
	q.push(memoryMessage{body: body})
	return nil
}

func (q *Memory) PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.stats.Published++
	q.stats.Delays = append(q.stats.Delays, delay)

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if !q.closed {
			q.push(memoryMessage{body: body})
		}
	})
	return nil
}

// push appends a message; callers hold mu
func (q *Memory) push(m memoryMessage) {
	q.pending = append(q.pending, m)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Memory) pop() (memoryMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return memoryMessage{}, false
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return m, true
}

func (q *Memory) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			m, ok := q.pop()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-q.notify:
					continue
				}
			}

			d := &memoryDelivery{queue: q, msg: m}
			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(true)
				return
			}
		}
	}()

	return out, nil
}

// Len reports messages waiting for a consumer, excluding pending delayed ones
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns a snapshot of the queue counters
func (q *Memory) Stats() MemoryStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Delays = append([]time.Duration(nil), q.stats.Delays...)
	return s
}

func (q *Memory) HealthCheck(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

type memoryDelivery struct {
	queue   *Memory
	msg     memoryMessage
	settled bool
}

func (d *memoryDelivery) Body() []byte {
	return d.msg.body
}

func (d *memoryDelivery) Redelivered() bool {
	return d.msg.redelivered
}

func (d *memoryDelivery) Ack() error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	d.queue.stats.Acked++
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	if d.settled {
		return nil
	}
	d.settled = true
	if !requeue {
		d.queue.stats.Dropped++
		return nil
	}
	d.queue.stats.Requeued++
	d.queue.push(memoryMessage{body: d.msg.body, redelivered: true})
	return nil
}

package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cuongbtq/video2audio/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	redisPopTimeout   = time.Second
	redisPromoteEvery = 500 * time.Millisecond
	redisPromoteBatch = 100
	redisErrorBackoff = time.Second
	redisDefaultQueue = "conversion_jobs"
)

// Redis is a reliable-list driver. Consumers atomically move each message from
// the ready list into a processing list; Ack removes it from there. Delayed
// messages wait in a sorted set scored by their due time.
type Redis struct {
	client *redis.Client
	rdb    *goredis.Client
	name   string
	logger *slog.Logger

	promoteOnce sync.Once
}

// NewRedis wraps a connected client. name prefixes every key the driver uses.
func NewRedis(client *redis.Client, name string, logger *slog.Logger) *Redis {
	if name == "" {
		name = redisDefaultQueue
	}
	return &Redis{
		client: client,
		rdb:    client.GetClient(),
		name:   name,
		logger: logger,
	}
}

func (q *Redis) readyKey() string      { return q.name + ":ready" }
func (q *Redis) processingKey() string { return q.name + ":processing" }
func (q *Redis) delayedKey() string    { return q.name + ":delayed" }
func (q *Redis) deadKey() string       { return q.name + ":dead" }

func (q *Redis) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.readyKey(), body).Err()
}

func (q *Redis) PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, msg)
	}
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.delayedKey(), goredis.Z{Score: float64(due), Member: body}).Err()
}

// Consume requeues whatever a previous consumer left in the processing list,
// then blocks on the ready list until ctx is cancelled
func (q *Redis) Consume(ctx context.Context) (<-chan Delivery, error) {
	recovered, err := q.requeueProcessing(ctx)
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		q.logger.Warn("Requeued unacknowledged Redis messages",
			slog.String("queue", q.name),
			slog.Int("count", recovered),
		)
	}

	q.promoteOnce.Do(func() { go q.promoteLoop(ctx) })

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			body, err := q.rdb.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", redisPopTimeout).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
					continue
				}
				q.logger.Error("Failed to pop message from Redis",
					slog.String("queue", q.name),
					slog.Any("error", err),
				)
				sleepCtx(ctx, redisErrorBackoff)
				continue
			}

			d := &redisDelivery{queue: q, body: body}
			select {
			case out <- d:
			case <-ctx.Done():
				if err := d.Nack(true); err != nil {
					q.logger.Error("Failed to requeue Redis message on shutdown",
						slog.String("queue", q.name),
						slog.Any("error", err),
					)
				}
				return
			}
		}
	}()

	return out, nil
}

func (q *Redis) requeueProcessing(ctx context.Context) (int, error) {
	count := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
	}
}

// promoteScript moves one delayed member onto the ready list only if this call
// removed it, so concurrent promoters never push it twice
var promoteScript = goredis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// promoteLoop moves due delayed messages onto the ready list
func (q *Redis) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(redisPromoteEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promote(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("Failed to promote delayed Redis messages",
					slog.String("queue", q.name),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (q *Redis) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: redisPromoteBatch,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		err := promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.readyKey()}, member).Err()
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Redis) HealthCheck(ctx context.Context) error {
	return q.client.HealthCheck(ctx)
}

func (q *Redis) Close() error {
	return q.client.Close()
}

type redisDelivery struct {
	queue *Redis
	body  []byte
}

func (d *redisDelivery) Body() []byte {
	return d.body
}

// Redelivered is not tracked by the list driver
func (d *redisDelivery) Redelivered() bool {
	return false
}

func (d *redisDelivery) Ack() error {
	return d.queue.rdb.LRem(context.Background(), d.queue.processingKey(), 1, d.body).Err()
}

func (d *redisDelivery) Nack(requeue bool) error {
	target := d.queue.deadKey()
	if requeue {
		target = d.queue.readyKey()
	}

	_, err := d.queue.rdb.TxPipelined(context.Background(), func(pipe goredis.Pipeliner) error {
		pipe.LRem(context.Background(), d.queue.processingKey(), 1, d.body)
		pipe.LPush(context.Background(), target, d.body)
		return nil
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Package queue carries job identifiers from the submission service to the
// worker pool with at-least-once delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/video2audio/shared/rabbitmq"
	"github.com/cuongbtq/video2audio/shared/redis"
	"github.com/google/uuid"
)

// Supported drivers
const (
	DriverRabbitMQ = "rabbitmq"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// ContentType of encoded messages
const ContentType = "application/json"

var (
	// ErrClosed is returned by operations on a closed queue
	ErrClosed = errors.New("queue closed")

	// ErrMalformedMessage is returned by Decode for bodies that carry no valid job id
	ErrMalformedMessage = errors.New("malformed queue message")
)

// Message is the only payload exchanged: the Job Store is authoritative for everything else
type Message struct {
	JobID uuid.UUID `json:"job_id"`
}

// Encode serializes msg for the wire
func Encode(msg Message) ([]byte, error) {
	if msg.JobID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty job id", ErrMalformedMessage)
	}
	return json.Marshal(msg)
}

// Decode parses a message body
func Decode(body []byte) (Message, error) {
	var raw struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	id, err := uuid.Parse(raw.JobID)
	if err != nil || id == uuid.Nil {
		return Message{}, fmt.Errorf("%w: invalid job id %q", ErrMalformedMessage, raw.JobID)
	}
	return Message{JobID: id}, nil
}

// Delivery is one attempt to hand a message to a consumer. Exactly one of Ack or
// Nack must be called; an unsettled delivery is redelivered when the consumer dies.
type Delivery interface {
	Body() []byte
	Redelivered() bool
	Ack() error
	Nack(requeue bool) error
}

// Publisher enqueues messages
type Publisher interface {
	Publish(ctx context.Context, msg Message) error

	// PublishDelayed makes msg visible to consumers after delay
	PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error
}

// Consumer streams deliveries until ctx is cancelled, then closes the channel
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// Queue is a driver handle owning its broker connection
type Queue interface {
	Publisher
	Consumer
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config selects and configures a driver
type Config struct {
	Driver      string
	ConsumerTag string
	RabbitMQ    *rabbitmq.Config
	Redis       *redis.Config
	RedisQueue  string
}

// New connects the configured driver
func New(cfg *Config, logger *slog.Logger) (Queue, error) {
	switch cfg.Driver {
	case DriverRabbitMQ, "":
		client, err := rabbitmq.NewClient(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		return NewRabbitMQ(client, cfg.ConsumerTag, logger), nil

	case DriverRedis:
		client, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, cfg.RedisQueue, logger), nil

	case DriverMemory:
		return NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

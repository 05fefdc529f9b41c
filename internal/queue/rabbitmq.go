package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/video2audio/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ is the AMQP driver. Delayed messages go through the retry queue.
type RabbitMQ struct {
	client      *rabbitmq.Client
	consumerTag string
	logger      *slog.Logger
}

// NewRabbitMQ wraps a connected client
func NewRabbitMQ(client *rabbitmq.Client, consumerTag string, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		client:      client,
		consumerTag: consumerTag,
		logger:      logger,
	}
}

func (q *RabbitMQ) Publish(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return q.client.PublishWithRetry(ctx, body, ContentType)
}

func (q *RabbitMQ) PublishDelayed(ctx context.Context, msg Message, delay time.Duration) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return q.client.PublishDelayed(ctx, body, ContentType, delay)
}

func (q *RabbitMQ) Consume(ctx context.Context) (<-chan Delivery, error) {
	messages, err := q.client.Consume(q.consumerTag)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				if err := q.client.Cancel(q.consumerTag); err != nil {
					q.logger.Warn("Failed to cancel RabbitMQ consumer",
						slog.String("consumer_tag", q.consumerTag),
						slog.Any("error", err),
					)
				}
				return

			case msg, ok := <-messages:
				if !ok {
					q.logger.Warn("RabbitMQ delivery channel closed")
					return
				}
				select {
				case out <- &rabbitDelivery{msg: msg}:
				case <-ctx.Done():
					// Not handed out; the broker requeues it when the consumer goes away
					_ = msg.Nack(false, true)
				}
			}
		}
	}()

	return out, nil
}

func (q *RabbitMQ) HealthCheck(ctx context.Context) error {
	if !q.client.IsConnected() {
		return rabbitmq.ErrNotConnected
	}
	return nil
}

func (q *RabbitMQ) Close() error {
	return q.client.Close()
}

type rabbitDelivery struct {
	msg amqp.Delivery
}

func (d *rabbitDelivery) Body() []byte {
	return d.msg.Body
}

func (d *rabbitDelivery) Redelivered() bool {
	return d.msg.Redelivered
}

func (d *rabbitDelivery) Ack() error {
	return d.msg.Ack(false)
}

func (d *rabbitDelivery) Nack(requeue bool) error {
	return d.msg.Nack(false, requeue)
}

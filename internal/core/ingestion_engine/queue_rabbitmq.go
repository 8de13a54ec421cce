package ingestion_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/docuchat/internal/logger"
)

// RabbitQueue stores jobs in a durable RabbitMQ queue so pending uploads
// survive a restart.
type RabbitQueue struct {
	conn      *amqp.Connection
	queueName string
	log       *logrus.Entry
}

// DialRabbitQueue connects to the broker and declares the queue.
func DialRabbitQueue(ctx context.Context, url, queueName string) (*RabbitQueue, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}
	q := &RabbitQueue{conn: conn, queueName: queueName, log: logger.New("ingest-queue")}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()
	if err := q.declare(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		q.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Publish(ctx context.Context, job Job) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		q.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    uuid.NewString(),
			Timestamp:    job.EnqueuedAt,
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish job failed: %w", err)
	}
	return nil
}

// Consume acknowledges a delivery once the handler returns. Jobs whose body
// cannot be decoded or whose handler fails are dropped, unless the failure
// came from shutdown, in which case the job is requeued.
func (q *RabbitQueue) Consume(ctx context.Context, handler JobHandler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set prefetch failed: %w", err)
	}
	if err := q.declare(ch); err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		q.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume queue failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrQueueClosed
			}

			var job Job
			if err := json.Unmarshal(d.Body, &job); err != nil {
				q.log.WithError(err).Warn("dropping undecodable ingest job")
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(ctx, job); err != nil {
				_ = d.Nack(false, ctx.Err() != nil)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (q *RabbitQueue) Close() error {
	return q.conn.Close()
}

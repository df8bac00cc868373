package events

import (
	"context"
	"encoding/json"
	"fmt"

	"ticket-ledger/internal/models"

	"github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

// Publisher announces terminal job outcomes. Delivery is best effort; the ledger
// row stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, outcome models.JobOutcome) error
	Close() error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys every outcome by transaction id so one transaction's
// events stay ordered on one partition.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, outcome models.JobOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(outcome.TransactionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(outcome.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write outcome to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitPublisher(conn *amqp091.Connection, exchange string) *RabbitPublisher {
	return &RabbitPublisher{conn: conn, exchange: exchange}
}

func (p *RabbitPublisher) Publish(ctx context.Context, outcome models.JobOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, p.exchange, outcome.Status, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    outcome.IdempotencyKey,
		Timestamp:    outcome.At,
		Body:         payload,
	})
}

func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}

// Noop drops every outcome.
type Noop struct{}

func (Noop) Publish(context.Context, models.JobOutcome) error { return nil }

func (Noop) Close() error { return nil }

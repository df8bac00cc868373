package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"ticket-ledger/internal/metrics"
	"ticket-ledger/internal/models"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job models.TransactionJob) error
	PushDeadLetter(ctx context.Context, raw []byte) error
}

// Bridge copies jobs published to Kafka onto the Redis pending queue. An offset is
// marked only after the job is safely on a queue, so a crash replays the message
// rather than losing it.
type Bridge struct {
	group    sarama.ConsumerGroup
	topic    string
	queue    Enqueuer
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewBridge(group sarama.ConsumerGroup, topic string, queue Enqueuer, m *metrics.Metrics, logger *slog.Logger) *Bridge {
	return &Bridge{
		group:    group,
		topic:    topic,
		queue:    queue,
		validate: validator.New(),
		metrics:  m,
		logger:   logger.With("component", "intake"),
	}
}

// Run consumes until ctx is canceled or the group is closed.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("intake started", "topic", b.topic)

	go func() {
		for err := range b.group.Errors() {
			b.logger.Error("kafka error", "error", err)
		}
	}()

	for {
		// Consume returns at every rebalance and has to be called again.
		if err := b.group.Consume(ctx, []string{b.topic}, b); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", b.topic, err)
		}
		if ctx.Err() != nil {
			b.logger.Info("intake stopped")
			return nil
		}
	}
}

func (b *Bridge) Setup(session sarama.ConsumerGroupSession) error {
	b.logger.Info("partitions assigned", "claims", session.Claims())
	return nil
}

func (b *Bridge) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (b *Bridge) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := b.handle(session.Context(), msg.Value); err != nil {
				b.logger.Error("failed to forward message",
					"partition", msg.Partition, "offset", msg.Offset, "error", err)
				// Leave the offset unmarked; the message comes back after the rebalance.
				return err
			}
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handle puts one message on the pending queue, or on the dead-letter queue when
// it is not a valid job.
func (b *Bridge) handle(ctx context.Context, value []byte) error {
	var job models.TransactionJob
	err := json.Unmarshal(value, &job)
	if err == nil {
		err = job.Validate(b.validate)
	}
	if err != nil {
		b.logger.Warn("invalid job message", "error", err)
		if dlqErr := b.queue.PushDeadLetter(ctx, value); dlqErr != nil {
			return fmt.Errorf("dead-letter invalid message: %w", dlqErr)
		}
		b.metrics.IntakeMessages.WithLabelValues("invalid").Inc()
		return nil
	}

	// Attempts belong to the worker.
	job.Attempts = 0
	if err := b.queue.Enqueue(ctx, job); err != nil {
		return err
	}
	b.metrics.IntakeMessages.WithLabelValues("queued").Inc()
	b.logger.Debug("job forwarded", "transaction_id", job.TransactionID, "job_type", job.Type)
	return nil
}

package broker

import (
	"ticket-ledger/internal/config"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter builds the producer for job outcome events.
func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},    // Same transaction id, same partition
		RequiredAcks: kafka.RequireOne, // Wait for acknowledgement from leader
		Async:        false,
		MaxAttempts:  10,
	}
}

// NewConsumerGroup joins the intake consumer group on the jobs topic.
func NewConsumerGroup(cfg *config.KafkaConfig) (sarama.ConsumerGroup, error) {
	return sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, cfg.GetSaramaConfig())
}

package broker

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// NewRabbitConnection dials RabbitMQ and declares the durable fanout exchange
// outcome events are published to.
func NewRabbitConnection(url, exchange string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return conn, nil
}

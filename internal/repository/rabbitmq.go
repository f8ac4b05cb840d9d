package repository

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// RabbitMQRepository owns the broker connection shared by the scoring
// publisher and consumer.
type RabbitMQRepository interface {
	// SetupQueue declares a durable direct exchange and a durable queue bound
	// to it with routingKey. Declarations are idempotent.
	SetupQueue(exchange, queue, routingKey string) error
	Channel() *amqp.Channel
	Close() error
}

type rabbitMQRepository struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  zerolog.Logger
}

func NewRabbitMQRepository(url string, logger zerolog.Logger) (RabbitMQRepository, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	r := &rabbitMQRepository{
		conn:    conn,
		channel: channel,
		logger:  logger,
	}
	go r.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	logger.Info().Msg("Connected to RabbitMQ")
	return r, nil
}

// watch logs a broker-side close. A clean Close delivers nothing.
func (r *rabbitMQRepository) watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		r.logger.Error().
			Int("code", err.Code).
			Str("reason", err.Reason).
			Bool("server", err.Server).
			Msg("RabbitMQ connection closed unexpectedly")
	}
}

func (r *rabbitMQRepository) SetupQueue(exchange, queue, routingKey string) error {
	if err := r.channel.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	q, err := r.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	if err := r.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	r.logger.Info().
		Str("exchange", exchange).
		Str("queue", q.Name).
		Str("routing_key", routingKey).
		Int("pending", q.Messages).
		Msg("RabbitMQ queue ready")

	return nil
}

func (r *rabbitMQRepository) Channel() *amqp.Channel {
	return r.channel
}

func (r *rabbitMQRepository) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}

	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}

	return nil
}

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"merchant-sync/internal/log"
)

const (
	dialAttempts = 10
	dialInterval = 2 * time.Second
)

// DialRabbitMQ connects to url, retrying while the broker comes up.
func DialRabbitMQ(ctx context.Context, url string, logger *log.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(dialInterval), dialAttempts-1), ctx)

	err := backoff.RetryNotify(func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("Failed to connect to RabbitMQ, retrying", log.Error(err), log.Duration("wait", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareTopic declares the durable topic exchange backing a topic name.
// Publishers route on it by merchant reference; consumers bind queues to it.
func DeclareTopic(ch *amqp.Channel, topic string) error {
	err := ch.ExchangeDeclare(
		topic,   // name
		"topic", // kind
		true,    // durable
		false,   // auto-delete
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", topic, err)
	}
	return nil
}

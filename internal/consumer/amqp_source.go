package consumer

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"merchant-sync/internal/broker"
	"merchant-sync/internal/model"
)

// AMQPSource reads from a durable queue named after the consumer group and
// bound to the topic exchanges it subscribes to. Consumers sharing a group
// share the queue and compete for messages.
type AMQPSource struct {
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
}

func NewAMQPSource(conn *amqp.Connection, group string, topics []string) (*AMQPSource, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// One unacknowledged message at a time, matching the loop.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	q, err := ch.QueueDeclare(
		group, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	for _, topic := range topics {
		if err := broker.DeclareTopic(ch, topic); err != nil {
			ch.Close()
			return nil, err
		}
		if err := ch.QueueBind(q.Name, "#", topic, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("failed to bind %s to %s: %w", q.Name, topic, err)
		}
	}

	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack: acknowledged by the loop after dispatch
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	return &AMQPSource{channel: ch, deliveries: deliveries}, nil
}

// Receive implements broker.Source. A closed delivery channel means the
// connection or channel is gone and is reported as broker.ErrSourceClosed.
func (s *AMQPSource) Receive(ctx context.Context) (*broker.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, broker.ErrSourceClosed
		}
		topic := d.Exchange
		if topic == "" {
			topic = d.Type
		}
		return &broker.Delivery{
			Message: model.Message{
				ID:    d.MessageId,
				Topic: topic,
				Key:   d.RoutingKey,
				Body:  d.Body,
			},
			Ack: func() error { return d.Ack(false) },
		}, nil
	}
}

func (s *AMQPSource) Close() error {
	return s.channel.Close()
}

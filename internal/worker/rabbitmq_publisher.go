package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/broker"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
)

var errNacked = errors.New("broker did not confirm message")

// RabbitMQPublisher maps every topic to a durable topic exchange of the same
// name and routes by merchant reference. Messages on one reference therefore
// share a routing key, and a single bound queue sees them in publish order.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	declared map[string]bool
	timeout  time.Duration
	logger   *log.Logger
}

// NewRabbitMQPublisher opens a confirm-mode channel on conn. timeout bounds
// each publish including the broker confirmation; zero means no bound.
func NewRabbitMQPublisher(conn *amqp.Connection, timeout time.Duration, logger *log.Logger) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQPublisher{
		channel:  ch,
		declared: make(map[string]bool),
		timeout:  timeout,
		logger:   logger.Component("rabbitmq-publisher"),
	}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg model.Message) error {
	key := broker.MessageKey(msg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.declareLocked(msg.Topic); err != nil {
		return apperr.Publish(msg.Topic, key, err)
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		msg.Topic, // exchange
		key,       // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			MessageId:    msg.ID,
			Type:         msg.Topic,
			ContentType:  "application/json",
			Body:         msg.Body,
			Timestamp:    time.Now().UTC(),
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return apperr.Publish(msg.Topic, key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return apperr.Publish(msg.Topic, key, err)
	}
	if !acked {
		return apperr.Publish(msg.Topic, key, errNacked)
	}

	p.logger.Debug("Published message",
		log.String("id", msg.ID), log.String("topic", msg.Topic), log.String("key", key))
	return nil
}

func (p *RabbitMQPublisher) declareLocked(topic string) error {
	if p.declared[topic] {
		return nil
	}
	if err := broker.DeclareTopic(p.channel, topic); err != nil {
		return err
	}
	p.declared[topic] = true
	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel.Close()
}

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/broker"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
)

var errBusClosed = errors.New("bus closed")

// InMemoryBus simulates a message broker in-process. It is both a Publisher
// and a broker.Source; messages come out in the order they went in.
type InMemoryBus struct {
	mu       sync.RWMutex
	messages chan model.Message
	closed   bool
	acked    atomic.Int64
	logger   *log.Logger
}

func NewInMemoryBus(capacity int, logger *log.Logger) *InMemoryBus {
	return &InMemoryBus{
		messages: make(chan model.Message, capacity),
		logger:   logger.Component("bus"),
	}
}

// Publish implements the Publisher interface. It blocks while the bus is full.
func (b *InMemoryBus) Publish(ctx context.Context, msg model.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	key := broker.MessageKey(msg)
	if b.closed {
		return apperr.Publish(msg.Topic, key, errBusClosed)
	}
	msg.Key = key

	select {
	case b.messages <- msg:
		b.logger.Debug("Relayed message", log.String("id", msg.ID), log.String("key", key))
		return nil
	case <-ctx.Done():
		return apperr.Publish(msg.Topic, key, ctx.Err())
	}
}

// Receive implements broker.Source.
func (b *InMemoryBus) Receive(ctx context.Context) (*broker.Delivery, error) {
	select {
	case msg, ok := <-b.messages:
		if !ok {
			return nil, broker.ErrSourceClosed
		}
		return &broker.Delivery{
			Message: msg,
			Ack: func() error {
				b.acked.Add(1)
				return nil
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting messages. Messages already queued can still be received.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.messages)
	}
}

func (b *InMemoryBus) Acked() int {
	return int(b.acked.Load())
}

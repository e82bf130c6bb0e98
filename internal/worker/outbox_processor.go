package worker

import (
	"context"
	"sync"
	"time"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/broker"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
	"merchant-sync/internal/store"
)

const (
	DefaultBatchSize    = 100
	DefaultPollInterval = time.Second
)

// Publisher delivers one message to the broker. A nil return means the
// broker accepted it; implementations do not buffer across calls.
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// OutboxStore hands pending outbox rows to a publish callback, deleting the
// ones it accepts.
type OutboxStore interface {
	ProcessPending(ctx context.Context, limit int, publish store.PublishFunc) (int, error)
}

// OutboxProcessor relays outbox rows to the broker. A row is deleted only
// after the broker accepted it, so a crash between the two republishes the
// row: delivery is at-least-once.
type OutboxProcessor struct {
	// mu keeps Flush and the ticker from draining concurrently, which would
	// interleave publishes of the same merchant.
	mu        sync.Mutex
	store     OutboxStore
	publisher Publisher
	batchSize int
	interval  time.Duration
	logger    *log.Logger
}

type Option func(*OutboxProcessor)

func WithBatchSize(n int) Option {
	return func(p *OutboxProcessor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *OutboxProcessor) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewOutboxProcessor(store OutboxStore, pub Publisher, logger *log.Logger, opts ...Option) *OutboxProcessor {
	p := &OutboxProcessor{
		store:     store,
		publisher: pub,
		batchSize: DefaultBatchSize,
		interval:  DefaultPollInterval,
		logger:    logger.Component("outbox-processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start drains the outbox on every tick until ctx is done. Failed rows stay
// pending and are retried on the next tick.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("Outbox relay incomplete, retrying next tick", log.Error(err))
			}
		}
	}
}

// Flush publishes pending rows in insertion order until the outbox is empty
// or a publish fails. It returns how many rows were published.
func (p *OutboxProcessor) Flush(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for {
		n, err := p.store.ProcessPending(ctx, p.batchSize, p.publish)
		total += n
		if err != nil {
			return total, err
		}
		if n < p.batchSize {
			if total > 0 {
				p.logger.Info("Relayed outbox events", log.Int("count", total))
			}
			return total, nil
		}
	}
}

func (p *OutboxProcessor) publish(ctx context.Context, event model.OutboxEvent) error {
	msg := event.Message()
	if err := p.publisher.Publish(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			log.String("id", msg.ID), log.String("key", msg.Key), log.Error(err))
		if apperr.IsPublish(err) {
			return err
		}
		return apperr.Publish(msg.Topic, broker.MessageKey(msg), err)
	}
	return nil
}

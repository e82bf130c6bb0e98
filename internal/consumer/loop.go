// Package consumer runs the calculator side of the pipeline: it pulls
// messages from a broker.Source, decodes them and hands them to the handler
// registered for their topic.
//
// The loop is fail-soft. Undecodable messages and handler failures are
// logged and acknowledged; there is no redelivery and no dead-letter queue.
// Only a closed source or a cancelled context ends it. A cancelled context
// lets the message in flight finish; if its handler fails anyway the message
// is left unacknowledged so the broker redelivers it.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/broker"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
)

// Handler processes one decoded message.
type Handler interface {
	Handle(ctx context.Context, msg model.Message, payload map[string]any) error
}

type HandlerFunc func(ctx context.Context, msg model.Message, payload map[string]any) error

func (f HandlerFunc) Handle(ctx context.Context, msg model.Message, payload map[string]any) error {
	return f(ctx, msg, payload)
}

// Stats counts what the loop did with the messages it received.
type Stats struct {
	Received     int64
	Handled      int64
	Failed       int64
	Undecodable  int64
	Unrouted     int64
	SourceErrors int64
}

type Loop struct {
	source         broker.Source
	handlers       map[string]Handler
	backoff        backoff.BackOff
	handlerTimeout time.Duration
	logger         *log.Logger

	received, handled, failed, undecodable, unrouted, sourceErrors atomic.Int64
}

type Option func(*Loop)

// WithBackoff sets the wait applied after a failed Receive. The default is
// backoff.ZeroBackOff: poll again immediately. A policy returning
// backoff.Stop makes Run give up with the last error.
func WithBackoff(b backoff.BackOff) Option {
	return func(l *Loop) {
		if b != nil {
			l.backoff = b
		}
	}
}

// WithHandlerTimeout bounds every handler call. Zero means no deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(l *Loop) { l.handlerTimeout = d }
}

func NewLoop(source broker.Source, logger *log.Logger, opts ...Option) *Loop {
	l := &Loop{
		source:   source,
		handlers: make(map[string]Handler),
		backoff:  &backoff.ZeroBackOff{},
		logger:   logger.Component("consumer"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register routes messages of topic to h. Call before Run.
func (l *Loop) Register(topic string, h Handler) {
	l.handlers[topic] = h
}

// Run polls and dispatches one message at a time until ctx is cancelled
// (returns nil) or the source is closed (returns broker.ErrSourceClosed).
func (l *Loop) Run(ctx context.Context) error {
	l.backoff.Reset()
	for {
		if ctx.Err() != nil {
			return nil
		}

		delivery, err := l.source.Receive(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrSourceClosed) {
				l.logger.Error("Message source closed, stopping", log.Error(err))
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			if stop := l.waitAfterSourceError(ctx, err); stop != nil {
				return stop
			}
			continue
		}

		l.backoff.Reset()
		l.dispatch(ctx, delivery)
	}
}

func (l *Loop) waitAfterSourceError(ctx context.Context, err error) error {
	l.sourceErrors.Add(1)
	wait := l.backoff.NextBackOff()
	if wait == backoff.Stop {
		l.logger.Error("Broker read failed, backoff policy exhausted", log.Error(err))
		return fmt.Errorf("receive: %w", err)
	}

	l.logger.Error("Broker read failed", log.Error(err), log.Duration("wait", wait))
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}

func (l *Loop) dispatch(ctx context.Context, d *broker.Delivery) {
	l.received.Add(1)
	msg := d.Message
	logger := l.logger.With(log.String("id", msg.ID), log.String("topic", msg.Topic))

	ack := true
	defer func() {
		if !ack {
			logger.Warn("Shutdown interrupted a failed message, leaving it unacknowledged for redelivery")
			return
		}
		if err := d.Ack(); err != nil {
			logger.Error("Failed to acknowledge message", log.Error(err))
		}
	}()

	payload, err := decode(msg)
	if err != nil {
		l.undecodable.Add(1)
		logger.Error("Failed to parse payload", log.Error(err))
		return
	}

	handler, ok := l.handlers[msg.Topic]
	if !ok {
		l.unrouted.Add(1)
		logger.Warn("No handler registered for topic")
		return
	}

	// Shutdown does not interrupt a running handler; only the handler
	// timeout bounds it.
	hctx := context.WithoutCancel(ctx)
	if l.handlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, l.handlerTimeout)
		defer cancel()
	}

	if err := handler.Handle(hctx, msg, payload); err != nil {
		l.failed.Add(1)
		logger.Error("Error handling message", log.Error(err))
		if ctx.Err() != nil {
			ack = false
		}
		return
	}
	l.handled.Add(1)
}

// decode parses the body as a JSON object, keeping numbers as json.Number so
// integer fields are read without float rounding.
func decode(msg model.Message) (map[string]any, error) {
	if len(bytes.TrimSpace(msg.Body)) == 0 {
		return nil, &apperr.DeserializationError{MessageID: msg.ID, Err: errors.New("empty body")}
	}

	dec := json.NewDecoder(bytes.NewReader(msg.Body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &apperr.DeserializationError{MessageID: msg.ID, Err: err}
	}
	if payload == nil {
		return nil, &apperr.DeserializationError{MessageID: msg.ID, Err: errors.New("body is not a JSON object")}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &apperr.DeserializationError{MessageID: msg.ID, Err: errors.New("trailing data after JSON object")}
	}
	return payload, nil
}

func (l *Loop) Stats() Stats {
	return Stats{
		Received:     l.received.Load(),
		Handled:      l.handled.Load(),
		Failed:       l.failed.Load(),
		Undecodable:  l.undecodable.Load(),
		Unrouted:     l.unrouted.Load(),
		SourceErrors: l.sourceErrors.Load(),
	}
}

package main

import (
	"context"

	"merchant-sync/internal/broker"
	"merchant-sync/internal/model"
)

// replaySource hands out its messages in order, then reports itself closed.
type replaySource struct {
	msgs []model.Message
}

func (s *replaySource) Receive(ctx context.Context) (*broker.Delivery, error) {
	if len(s.msgs) == 0 {
		return nil, broker.ErrSourceClosed
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return &broker.Delivery{Message: msg, Ack: func() error { return nil }}, nil
}

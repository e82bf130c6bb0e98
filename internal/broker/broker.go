// Package broker holds the transport-neutral pieces shared by publishers and
// consumers: the delivery envelope, the Source abstraction and the rule that
// maps a message to its partitioning key.
package broker

import (
	"context"
	"encoding/json"
	"errors"

	"merchant-sync/internal/model"
)

// ErrSourceClosed is returned by a Source that can no longer deliver
// messages. It is the only error a consumer loop treats as fatal.
var ErrSourceClosed = errors.New("message source closed")

// Delivery is one received message. Ack must be called exactly once.
type Delivery struct {
	Message model.Message
	Ack     func() error
}

// Source yields messages one at a time. Receive blocks until a message
// arrives, ctx is done, or the source fails.
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// MessageKey returns the partitioning key of msg, falling back to the
// merchant_reference field of its JSON body.
func MessageKey(msg model.Message) string {
	if msg.Key != "" {
		return msg.Key
	}
	var body struct {
		MerchantReference string `json:"merchant_reference"`
	}
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return ""
	}
	return body.MerchantReference
}

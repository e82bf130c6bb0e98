package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MerchantEvent is the merchant_upserted payload. It omits the
// importer's ID and the merchant's email.
type MerchantEvent struct {
	MerchantReference     string `json:"merchant_reference"`
	LiveOn                string `json:"live_on"`
	DisbursementFrequency string `json:"disbursement_frequency"`
	MinimumMonthlyFee     int64  `json:"minimum_monthly_fee"`
}

func NewMerchantEvent(m Merchant) MerchantEvent {
	return MerchantEvent{
		MerchantReference:     m.Reference,
		LiveOn:                m.LiveOn.Format(DateLayout),
		DisbursementFrequency: string(m.Frequency),
		MinimumMonthlyFee:     m.MinimumMonthlyFee,
	}
}

// NewOutboxEvents shapes one merchant_upserted outbox row per merchant, in order.
func NewOutboxEvents(topic string, merchants []Merchant, now time.Time) ([]OutboxEvent, error) {
	events := make([]OutboxEvent, 0, len(merchants))
	for _, m := range merchants {
		payload, err := json.Marshal(NewMerchantEvent(m))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event for %s: %w", m.Reference, err)
		}
		events = append(events, OutboxEvent{
			ID:          uuid.New(),
			AggregateID: m.Reference,
			Topic:       topic,
			Payload:     payload,
			CreatedAt:   now,
		})
	}
	return events, nil
}

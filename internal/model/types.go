package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used in batch files, payloads and logs.
const DateLayout = "2006-01-02"

// TopicMerchantUpserted carries one MerchantEvent per synchronized merchant.
const TopicMerchantUpserted = "merchant_upserted"

type Frequency string

const (
	Daily  Frequency = "DAILY"
	Weekly Frequency = "WEEKLY"
)

// ParseFrequency accepts DAILY or WEEKLY in any case. Every other token is rejected.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToUpper(strings.TrimSpace(s))) {
	case Daily:
		return Daily, nil
	case Weekly:
		return Weekly, nil
	}
	return "", fmt.Errorf("unknown disbursement frequency %q", s)
}

func (f Frequency) Valid() bool {
	return f == Daily || f == Weekly
}

// Merchant is the importer's full record. Email never leaves the importer.
type Merchant struct {
	ID                uuid.UUID `json:"id"`
	Reference         string    `json:"merchant_reference"`
	Email             string    `json:"email"`
	LiveOn            time.Time `json:"live_on"`
	Frequency         Frequency `json:"disbursement_frequency"`
	MinimumMonthlyFee int64     `json:"minimum_monthly_fee"`
}

// CalculatorMerchant is the calculator's mirror. ID is assigned locally and
// has no relation to the importer's ID.
type CalculatorMerchant struct {
	ID                uuid.UUID `json:"id"`
	Reference         string    `json:"merchant_reference"`
	LiveOn            time.Time `json:"live_on"`
	Frequency         Frequency `json:"disbursement_frequency"`
	MinimumMonthlyFee int64     `json:"minimum_monthly_fee"`
}

type OutboxEvent struct {
	ID          uuid.UUID `json:"id"`
	Seq         int64     `json:"seq"`
	AggregateID string    `json:"aggregate_id"`
	Topic       string    `json:"topic"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is the broker-neutral envelope handed to publishers and read back
// by consumers. Key is the partitioning key (the merchant reference).
type Message struct {
	ID    string
	Topic string
	Key   string
	Body  []byte
}

// Message converts a pending outbox row into the envelope that goes on the wire.
func (e OutboxEvent) Message() Message {
	return Message{
		ID:    e.ID.String(),
		Topic: e.Topic,
		Key:   e.AggregateID,
		Body:  e.Payload,
	}
}

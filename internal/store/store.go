// Package store persists merchants for both services. Every write is keyed by
// merchant_reference; ids are never used to match rows.
package store

import (
	"context"
	"errors"

	"merchant-sync/internal/model"
)

// ErrNotFound is returned by lookups for an unknown merchant reference.
var ErrNotFound = errors.New("merchant not found")

// PublishFunc is called once per pending outbox row by ProcessPending.
type PublishFunc func(ctx context.Context, event model.OutboxEvent) error

// dedupeMerchants keeps the last occurrence of every reference, in the order
// of those last occurrences. A single ON CONFLICT DO UPDATE statement cannot
// touch the same row twice.
func dedupeMerchants(merchants []model.Merchant) []model.Merchant {
	last := make(map[string]int, len(merchants))
	for i, m := range merchants {
		last[m.Reference] = i
	}
	if len(last) == len(merchants) {
		return merchants
	}

	out := make([]model.Merchant, 0, len(last))
	for i, m := range merchants {
		if last[m.Reference] == i {
			out = append(out, m)
		}
	}
	return out
}

func dedupeCalculatorMerchants(merchants []model.CalculatorMerchant) []model.CalculatorMerchant {
	last := make(map[string]int, len(merchants))
	for i, m := range merchants {
		last[m.Reference] = i
	}
	if len(last) == len(merchants) {
		return merchants
	}

	out := make([]model.CalculatorMerchant, 0, len(last))
	for i, m := range merchants {
		if last[m.Reference] == i {
			out = append(out, m)
		}
	}
	return out
}

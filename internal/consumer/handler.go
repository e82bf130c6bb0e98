package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
)

var errMissing = errors.New("missing")

// MerchantStore is the calculator-side upsert store.
type MerchantStore interface {
	UpsertMerchants(ctx context.Context, merchants []model.CalculatorMerchant) error
	ApplyOnce(ctx context.Context, messageID string, merchant model.CalculatorMerchant) (bool, error)
}

// MerchantUpsertedHandler mirrors merchant_upserted events into the
// calculator store. Each event gets a fresh local id; the importer's id is
// never on the wire.
type MerchantUpsertedHandler struct {
	store   MerchantStore
	lenient bool
	logger  *log.Logger
}

type HandlerOption func(*MerchantUpsertedHandler)

// WithLenientDefaults turns a missing or mistyped merchant_reference into ""
// and a missing or mistyped minimum_monthly_fee into 0 instead of failing.
// Such events can write degenerate rows.
func WithLenientDefaults() HandlerOption {
	return func(h *MerchantUpsertedHandler) { h.lenient = true }
}

func NewMerchantUpsertedHandler(store MerchantStore, logger *log.Logger, opts ...HandlerOption) *MerchantUpsertedHandler {
	h := &MerchantUpsertedHandler{
		store:  store,
		logger: logger.Component("merchant-upserted-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle upserts the merchant described by payload. Messages with an id are
// applied at most once; redeliveries are skipped.
func (h *MerchantUpsertedHandler) Handle(ctx context.Context, msg model.Message, payload map[string]any) error {
	merchant, err := h.ToMerchant(payload)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		if err := h.store.UpsertMerchants(ctx, []model.CalculatorMerchant{merchant}); err != nil {
			return err
		}
	} else {
		applied, err := h.store.ApplyOnce(ctx, msg.ID, merchant)
		if err != nil {
			return err
		}
		if !applied {
			h.logger.Info("Skipping duplicate message",
				log.String("id", msg.ID), log.String("reference", merchant.Reference))
			return nil
		}
	}

	h.logger.Info("Processed merchant",
		log.String("reference", merchant.Reference),
		log.String("live_on", merchant.LiveOn.Format(model.DateLayout)),
		log.Int64("fee", merchant.MinimumMonthlyFee))
	return nil
}

// ToMerchant maps an event payload to a calculator merchant with a new id.
func (h *MerchantUpsertedHandler) ToMerchant(payload map[string]any) (model.CalculatorMerchant, error) {
	reference, err := h.reference(payload)
	if err != nil {
		return model.CalculatorMerchant{}, err
	}

	rawDate, _ := payload["live_on"].(string)
	liveOn, err := time.Parse(model.DateLayout, rawDate)
	if err != nil {
		return model.CalculatorMerchant{}, apperr.Validation("live_on", rawDate, err)
	}

	rawFrequency, _ := payload["disbursement_frequency"].(string)
	frequency := model.Frequency(rawFrequency)
	if !frequency.Valid() {
		return model.CalculatorMerchant{}, apperr.Validation("disbursement_frequency", rawFrequency,
			fmt.Errorf("unknown disbursement frequency %q", rawFrequency))
	}

	fee, err := h.fee(payload)
	if err != nil {
		return model.CalculatorMerchant{}, err
	}

	return model.CalculatorMerchant{
		ID:                uuid.New(),
		Reference:         reference,
		LiveOn:            liveOn,
		Frequency:         frequency,
		MinimumMonthlyFee: fee,
	}, nil
}

func (h *MerchantUpsertedHandler) reference(payload map[string]any) (string, error) {
	raw, present := payload["merchant_reference"]
	reference, isString := raw.(string)
	if isString && reference != "" {
		return reference, nil
	}
	if h.lenient {
		return reference, nil
	}
	if !present || raw == nil || isString {
		return "", apperr.Validation("merchant_reference", "", errMissing)
	}
	return "", apperr.Validation("merchant_reference", fmt.Sprint(raw), errors.New("not a string"))
}

func (h *MerchantUpsertedHandler) fee(payload map[string]any) (int64, error) {
	raw, present := payload["minimum_monthly_fee"]
	if !present || raw == nil {
		if h.lenient {
			return 0, nil
		}
		return 0, apperr.Validation("minimum_monthly_fee", "", errMissing)
	}

	fee, err := toInt64(raw)
	if err != nil {
		if h.lenient {
			return 0, nil
		}
		return 0, apperr.Validation("minimum_monthly_fee", fmt.Sprint(raw), err)
	}
	return fee, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, errors.New("not an integer")
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

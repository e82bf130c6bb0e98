package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-sync/internal/broker"
	"merchant-sync/internal/consumer"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
	"merchant-sync/internal/store"
)

func TestSecondDeliveryIsSkipped(t *testing.T) {
	ctx := context.Background()
	calc := store.NewMemoryCalculatorStore()

	const id = "550e8400-e29b-41d4-a716-446655449999"
	changed := `{"merchant_reference":"padberg_group","live_on":"2024-05-01","disbursement_frequency":"WEEKLY","minimum_monthly_fee":999}`
	src := &replaySource{msgs: []model.Message{
		{ID: id, Topic: model.TopicMerchantUpserted, Body: []byte(samplePayload)},
		{ID: id, Topic: model.TopicMerchantUpserted, Body: []byte(changed)},
	}}

	loop := consumer.NewLoop(src, log.Discard())
	loop.Register(model.TopicMerchantUpserted, consumer.NewMerchantUpsertedHandler(calc, log.Discard()))

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, broker.ErrSourceClosed)
	assert.Equal(t, int64(2), loop.Stats().Handled)

	got, err := calc.GetByReference(ctx, "padberg_group")
	require.NoError(t, err)
	assert.Equal(t, model.Daily, got.Frequency)
	assert.Equal(t, int64(0), got.MinimumMonthlyFee)
	assert.True(t, got.LiveOn.Equal(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)))

	n, _ := calc.Count(ctx)
	assert.Equal(t, 1, n)
}

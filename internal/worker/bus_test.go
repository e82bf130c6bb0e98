package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/broker"
	"merchant-sync/internal/log"
	"merchant-sync/internal/model"
)

func TestBusDeliversInOrderWithKeys(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryBus(4, log.Discard())

	require.NoError(t, bus.Publish(ctx, model.Message{ID: "1", Topic: "t", Key: "acme", Body: []byte(`{}`)}))
	require.NoError(t, bus.Publish(ctx, model.Message{ID: "2", Topic: "t", Body: []byte(`{"merchant_reference":"globex"}`)}))

	d, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", d.Message.ID)
	assert.Equal(t, "acme", d.Message.Key)
	require.NoError(t, d.Ack())

	d, err = bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", d.Message.ID)
	assert.Equal(t, "globex", d.Message.Key)

	assert.Equal(t, 1, bus.Acked())
}

func TestBusClose(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryBus(1, log.Discard())
	require.NoError(t, bus.Publish(ctx, model.Message{ID: "1", Topic: "t", Key: "k"}))
	bus.Close()

	err := bus.Publish(ctx, model.Message{ID: "2", Topic: "t", Key: "k"})
	assert.True(t, apperr.IsPublish(err))

	d, err := bus.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", d.Message.ID)

	_, err = bus.Receive(ctx)
	assert.ErrorIs(t, err, broker.ErrSourceClosed)
}

func TestBusPublishHonoursContextWhenFull(t *testing.T) {
	bus := NewInMemoryBus(1, log.Discard())
	require.NoError(t, bus.Publish(context.Background(), model.Message{ID: "1", Topic: "t", Key: "k"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := bus.Publish(ctx, model.Message{ID: "2", Topic: "t", Key: "k"})
	assert.True(t, apperr.IsPublish(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusReceiveHonoursContext(t *testing.T) {
	bus := NewInMemoryBus(1, log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

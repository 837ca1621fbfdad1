package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/mimo-inventory/internal/service"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestStockEventPublisher_PublishStockEvent(t *testing.T) {
	writer := &fakeWriter{}
	p := newStockEventPublisher(zap.NewNop(), writer, "inventory.stock")

	err := p.PublishStockEvent(context.Background(), service.StockEvent{
		Type:             service.EventStockReleased,
		InventoryID:      "inv-1",
		ProductID:        "p1",
		VariantID:        "v1",
		RequesterID:      "user-1",
		ReleaseMode:      service.ReleaseFinalize,
		Delta:            -3,
		Quantity:         7,
		ReservedQuantity: 0,
		Available:        7,
		OccurredAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "inv-1", string(msg.Key))

	var payload StockEventMessage
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.NotEmpty(t, payload.EventID)
	assert.Equal(t, "inventory.stock.released", payload.EventType)
	assert.Equal(t, 1, payload.EventVersion)
	assert.Equal(t, "2026-03-01T12:00:00Z", payload.OccurredAt)
	assert.Equal(t, "finalize", payload.ReleaseMode)
	assert.Equal(t, int32(-3), payload.Delta)
	assert.Equal(t, int32(7), payload.Available)

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestStockEventPublisher_WriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("leader not available")}
	p := newStockEventPublisher(zap.NewNop(), writer, "inventory.stock")

	err := p.PublishStockEvent(context.Background(), service.StockEvent{Type: service.EventStockUpdated, InventoryID: "inv-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/service"
)

// messageWriter - часть kafka.Writer, которая нужна publisher'у
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StockEventMessage - JSON payload события об изменении остатка
type StockEventMessage struct {
	EventID          string `json:"event_id"`
	EventType        string `json:"event_type"`
	EventVersion     int    `json:"event_version"`
	OccurredAt       string `json:"occurred_at"`
	InventoryID      string `json:"inventory_id"`
	ProductID        string `json:"product_id"`
	VariantID        string `json:"variant_id,omitempty"`
	WarehouseID      string `json:"warehouse_id,omitempty"`
	RequesterID      string `json:"requester_id,omitempty"`
	ReleaseMode      string `json:"release_mode,omitempty"`
	Delta            int32  `json:"delta"`
	Quantity         int32  `json:"quantity"`
	ReservedQuantity int32  `json:"reserved_quantity"`
	Available        int32  `json:"available"`
}

// StockEventPublisher реализует service.EventPublisher используя Kafka
type StockEventPublisher struct {
	logger *zap.Logger
	writer messageWriter
	topic  string
}

// NewStockEventPublisher создаёт Kafka publisher событий остатка
func NewStockEventPublisher(logger *zap.Logger, brokers []string, topic string) *StockEventPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{}, // события одной записи попадают в одну партицию
	}
	return newStockEventPublisher(logger, writer, topic)
}

func newStockEventPublisher(logger *zap.Logger, writer messageWriter, topic string) *StockEventPublisher {
	return &StockEventPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *StockEventPublisher) Close() error {
	return p.writer.Close()
}

// PublishStockEvent публикует событие с ключом inventory id
func (p *StockEventPublisher) PublishStockEvent(ctx context.Context, event service.StockEvent) error {
	logger := platformobservability.L(ctx, p.logger)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	payload := StockEventMessage{
		EventID:          uuid.New().String(),
		EventType:        event.Type,
		EventVersion:     1,
		OccurredAt:       occurredAt.UTC().Format(time.RFC3339),
		InventoryID:      event.InventoryID,
		ProductID:        event.ProductID,
		VariantID:        event.VariantID,
		WarehouseID:      event.WarehouseID,
		RequesterID:      event.RequesterID,
		ReleaseMode:      string(event.ReleaseMode),
		Delta:            event.Delta,
		Quantity:         event.Quantity,
		ReservedQuantity: event.ReservedQuantity,
		Available:        event.Available,
	}

	valueBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.InventoryID),
		Value: valueBytes,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		logger.Error("failed to publish stock event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("event_type", event.Type),
			zap.String("inventory_id", event.InventoryID),
		)
		return fmt.Errorf("publish stock event: %w", err)
	}

	logger.Debug("stock event published",
		zap.String("topic", p.topic),
		zap.String("event_id", payload.EventID),
		zap.String("event_type", event.Type),
		zap.String("inventory_id", event.InventoryID),
	)
	return nil
}

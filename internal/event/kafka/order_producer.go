package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderEventProducer пишет события заказа в том же формате, что читает OrderEventConsumer.
// Используется inventoryctl для локальной проверки consumer'а без order сервиса.
type OrderEventProducer struct {
	logger *zap.Logger
	writer messageWriter
	now    func() time.Time
}

// NewOrderEventProducer создаёт producer в топик событий заказа
func NewOrderEventProducer(logger *zap.Logger, brokers []string, topic string) *OrderEventProducer {
	return newOrderEventProducer(logger, &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

func newOrderEventProducer(logger *zap.Logger, writer messageWriter) *OrderEventProducer {
	return &OrderEventProducer{logger: logger, writer: writer, now: time.Now}
}

// Publish дописывает event_id и occurred_at, если они не заданы, и отправляет событие с ключом order_id
func (p *OrderEventProducer) Publish(ctx context.Context, event OrderEvent) (OrderEvent, error) {
	if event.EventType != EventCheckoutCancelled && event.EventType != EventOrderPaid {
		return OrderEvent{}, fmt.Errorf("unsupported order event type %q", event.EventType)
	}
	if event.UserID == "" {
		return OrderEvent{}, fmt.Errorf("order event requires user_id")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt == "" {
		event.OccurredAt = p.now().UTC().Format(time.RFC3339)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return OrderEvent{}, fmt.Errorf("marshal order event: %w", err)
	}

	key := event.OrderID
	if key == "" {
		key = event.UserID
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return OrderEvent{}, fmt.Errorf("write order event: %w", err)
	}

	p.logger.Info("order event published",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
		zap.String("user_id", event.UserID),
	)
	return event, nil
}

// Close закрывает Kafka writer
func (p *OrderEventProducer) Close() error {
	return p.writer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	platformkafka "github.com/shestoi/mimo-inventory/platform/kafka"

	"github.com/shestoi/mimo-inventory/internal/event/idempotency"
	"github.com/shestoi/mimo-inventory/internal/service"
)

// Типы событий заказа, на которые реагирует inventory
const (
	EventCheckoutCancelled = "checkout.cancelled"
	EventOrderPaid         = "order.payment.completed"
)

// messageReader - часть kafka.Reader, которая нужна consumer'у
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// HoldReleaser снимает все резервы покупателя
type HoldReleaser interface {
	ReleaseAllForRequester(ctx context.Context, requesterID string, mode service.ReleaseMode) (int, error)
}

// OrderEvent - поля события заказа, которые нужны inventory
type OrderEvent struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
}

// OrderEventConsumer снимает резервы по событиям заказа:
// checkout.cancelled отменяет резервы покупателя, order.payment.completed списывает их со склада.
type OrderEventConsumer struct {
	logger       *zap.Logger
	reader       messageReader
	releaser     HoldReleaser
	store        idempotency.Store
	processedTTL time.Duration
	maxAttempts  int
	backoffBase  time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewOrderEventConsumer создаёт consumer на cfg.OrderTopic в группе cfg.ConsumerGroup
func NewOrderEventConsumer(logger *zap.Logger, cfg platformkafka.Config, releaser HoldReleaser, store idempotency.Store) *OrderEventConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.OrderTopic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newOrderEventConsumer(logger, reader, releaser, store, cfg.ProcessedEventTTL, cfg.MaxAttempts, cfg.BackoffBase)
}

func newOrderEventConsumer(
	logger *zap.Logger,
	reader messageReader,
	releaser HoldReleaser,
	store idempotency.Store,
	processedTTL time.Duration,
	maxAttempts int,
	backoffBase time.Duration,
) *OrderEventConsumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	if processedTTL <= 0 {
		processedTTL = 24 * time.Hour
	}
	return &OrderEventConsumer{
		logger:       logger,
		reader:       reader,
		releaser:     releaser,
		store:        store,
		processedTTL: processedTTL,
		maxAttempts:  maxAttempts,
		backoffBase:  backoffBase,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Start читает сообщения до отмены ctx.
// At-least-once: FetchMessage, обработка, затем CommitMessages.
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting order events consumer", zap.Int("max_retry_attempts", c.maxAttempts))

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled, stopping")
				return nil
			}
			c.logger.Error("failed to fetch message from kafka", zap.Error(err))
			continue
		}

		if !c.processMessage(ctx, m) {
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit message offset",
				zap.Error(err),
				zap.String("topic", m.Topic),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
			)
		}
	}
}

// processMessage возвращает true, если offset нужно закоммитить.
// false только при отмене ctx во время обработки: сообщение прочитается снова.
func (c *OrderEventConsumer) processMessage(ctx context.Context, m kafka.Message) bool {
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}

	var event OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.Error("failed to unmarshal order event, skipping", append(fields, zap.Error(err))...)
		return true
	}

	var mode service.ReleaseMode
	switch event.EventType {
	case EventCheckoutCancelled:
		mode = service.ReleaseCancel
	case EventOrderPaid:
		mode = service.ReleaseFinalize
	default:
		c.logger.Debug("ignoring order event", append(fields, zap.String("event_type", event.EventType))...)
		return true
	}

	if event.UserID == "" {
		c.logger.Error("order event without user_id, skipping",
			append(fields, zap.String("event_id", event.EventID), zap.String("event_type", event.EventType))...)
		return true
	}

	fields = append(fields,
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
		zap.String("user_id", event.UserID),
	)

	if event.EventID != "" {
		processed, err := c.store.IsProcessed(ctx, event.EventID)
		if err != nil {
			// без store лучше обработать повторно: снятие уже снятых резервов ничего не делает
			c.logger.Warn("failed to check processed event", append(fields, zap.Error(err))...)
		} else if processed {
			c.logger.Info("order event already processed, skipping", fields...)
			return true
		}
	} else {
		c.logger.Warn("order event without event_id, idempotency check skipped", fields...)
	}

	released, ok := c.handleWithRetry(ctx, event, mode, fields)
	if !ok {
		return ctx.Err() == nil
	}

	if event.EventID != "" {
		if err := c.store.MarkProcessed(ctx, event.EventID, c.processedTTL); err != nil {
			c.logger.Warn("failed to mark order event processed", append(fields, zap.Error(err))...)
		}
	}

	c.logger.Info("order event processed", append(fields, zap.Int("released", released))...)
	return true
}

// handleWithRetry повторяет снятие резервов с линейной задержкой backoffBase * attempt
func (c *OrderEventConsumer) handleWithRetry(ctx context.Context, event OrderEvent, mode service.ReleaseMode, fields []zap.Field) (int, bool) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := c.backoffBase * time.Duration(attempt-1)
			c.logger.Info("retrying order event",
				append(fields, zap.Int("attempt", attempt), zap.Duration("backoff", backoff))...)
			if err := c.sleep(ctx, backoff); err != nil {
				return 0, false
			}
		}

		released, err := c.releaser.ReleaseAllForRequester(ctx, event.UserID, mode)
		if err == nil {
			return released, true
		}

		lastErr = err
		c.logger.Warn("failed to release holds",
			append(fields, zap.Error(err), zap.Int("attempt", attempt), zap.Int("max_attempts", c.maxAttempts))...)
	}

	c.logger.Error("exhausted all retry attempts, skipping order event",
		append(fields, zap.Error(lastErr), zap.Int("max_attempts", c.maxAttempts))...)
	return 0, false
}

// Close закрывает Kafka reader
func (c *OrderEventConsumer) Close() error {
	c.logger.Info("closing order events consumer")
	return c.reader.Close()
}

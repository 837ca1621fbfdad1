package kafka

import (
	"errors"
	"time"
)

// Config содержит конфигурацию Kafka для inventory сервиса
type Config struct {
	// Enabled выключает и publisher, и consumer. Без Kafka сервис работает с noop publisher.
	Enabled bool `env:"KAFKA_ENABLED" envDefault:"false"`
	// Brokers - список брокеров Kafka:
	//   - локальная разработка (go run): localhost:19092
	//   - запуск в Docker: kafka:9092
	// Несколько брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`
	// StockTopic - куда публикуются события inventory.stock.*
	StockTopic string `env:"KAFKA_STOCK_TOPIC" envDefault:"inventory.stock"`
	// OrderTopic - откуда читаются checkout.cancelled и order.payment.completed
	OrderTopic string `env:"KAFKA_ORDER_TOPIC" envDefault:"order.events"`
	// ConsumerGroup - group id consumer'а событий заказа
	ConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" envDefault:"inventory-service"`
	// ProcessedEventTTL - сколько помнить обработанные event_id
	ProcessedEventTTL time.Duration `env:"PROCESSED_EVENT_TTL" envDefault:"24h"`
	// MaxAttempts и BackoffBase управляют retry обработки одного сообщения
	MaxAttempts int           `env:"KAFKA_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase time.Duration `env:"KAFKA_BACKOFF_BASE" envDefault:"1s"`
}

// DefaultConfig возвращает конфигурацию с дефолтными значениями для локальной разработки
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		Brokers:           []string{"localhost:19092"},
		StockTopic:        "inventory.stock",
		OrderTopic:        "order.events",
		ConsumerGroup:     "inventory-service",
		ProcessedEventTTL: 24 * time.Hour,
		MaxAttempts:       3,
		BackoffBase:       time.Second,
	}
}

// Validate проверяет конфигурацию, только если Kafka включена
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.StockTopic == "" || c.OrderTopic == "" {
		return errors.New("KAFKA_STOCK_TOPIC and KAFKA_ORDER_TOPIC are required when KAFKA_ENABLED=true")
	}
	if c.ConsumerGroup == "" {
		return errors.New("KAFKA_CONSUMER_GROUP is required when KAFKA_ENABLED=true")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("KAFKA_MAX_ATTEMPTS must be positive")
	}
	return nil
}

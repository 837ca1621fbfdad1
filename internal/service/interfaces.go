package service

import (
	"context"
	"time"
)

// Типы событий об изменении остатка
const (
	EventStockReserved = "inventory.stock.reserved"
	EventStockReleased = "inventory.stock.released"
	EventStockUpdated  = "inventory.stock.updated"
	EventStockLow      = "inventory.stock.low"
)

// StockEvent описывает закоммиченное изменение остатка
type StockEvent struct {
	Type             string
	InventoryID      string
	ProductID        string
	VariantID        string
	WarehouseID      string
	RequesterID      string
	ReleaseMode      ReleaseMode
	Delta            int32
	Quantity         int32
	ReservedQuantity int32
	Available        int32
	OccurredAt       time.Time
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=EventPublisher --dir=. --output=./mocks --outpkg=mocks

// EventPublisher публикует события об изменении остатка.
// Публикация best effort: ошибка логируется, но закоммиченное изменение не откатывается.
type EventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// NoopPublisher используется, когда Kafka выключена
type NoopPublisher struct{}

func (NoopPublisher) PublishStockEvent(context.Context, StockEvent) error { return nil }

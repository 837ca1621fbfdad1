package repository

import (
	"context"
	"errors"
	"time"
)

// Inventory представляет складской остаток одного товара (или варианта товара) на складе.
// Одна запись на комбинацию (ProductID, VariantID, WarehouseID).
type Inventory struct {
	ID               string
	ProductID        string
	VariantID        string // пустая строка - товар без вариантов
	WarehouseID      string
	Quantity         int32 // всего единиц в наличии
	ReservedQuantity int32 // из них удерживается резервами
	LastUpdatedBy    string
	Version          int64 // увеличивается при каждой записи, используется для optimistic locking
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available возвращает количество единиц, свободных для новых резервов
func (i Inventory) Available() int32 {
	return i.Quantity - i.ReservedQuantity
}

// Reservation представляет резерв (hold) одного покупателя на часть остатка
type Reservation struct {
	ID          string
	InventoryID string
	RequesterID string
	Quantity    int32
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HoldChange описывает одну атомарную запись резерва:
// изменение счётчиков Inventory и одновременное изменение строки Reservation.
type HoldChange struct {
	InventoryID string
	// ExpectedVersion - версия Inventory, прочитанная перед проверкой.
	// Если в хранилище уже другая версия, запись отклоняется с ErrVersionConflict.
	ExpectedVersion int64
	QuantityDelta   int32
	ReservedDelta   int32
	RequesterID     string
	// Reservation - новое состояние резерва (upsert). nil вместе с DeleteReservation=true удаляет резерв.
	Reservation       *Reservation
	DeleteReservation bool
	UpdatedBy         string
}

// InventoryRepository определяет интерфейс для работы с хранилищем остатков
// Service слой зависит от этого интерфейса, а не от конкретной реализации
type InventoryRepository interface {
	// Create сохраняет новую запись. Возвращает ErrDuplicate, если запись с таким ключом уже есть
	Create(ctx context.Context, inv Inventory) error

	// GetByID возвращает ErrNotFound, если запись не найдена
	GetByID(ctx context.Context, id string) (Inventory, error)

	// GetByKey ищет запись по (product, variant, warehouse)
	GetByKey(ctx context.Context, productID, variantID, warehouseID string) (Inventory, error)

	// FindByProductAndVariant возвращает самую раннюю запись для пары (product, variant) на любом складе
	FindByProductAndVariant(ctx context.Context, productID, variantID string) (Inventory, error)

	// SetQuantity перезаписывает общее количество, если версия совпадает
	// и новое количество не меньше зарезервированного
	SetQuantity(ctx context.Context, id string, quantity int32, updatedBy string, expectedVersion int64) (Inventory, error)

	// List возвращает все записи
	List(ctx context.Context) ([]Inventory, error)

	// ListLowQuantity возвращает записи с quantity <= threshold
	ListLowQuantity(ctx context.Context, threshold int32) ([]Inventory, error)

	// ApplyHold атомарно применяет изменение счётчиков и резерва.
	// Хранилище само проверяет 0 <= reserved <= quantity и возвращает ErrInvariantViolation при нарушении.
	ApplyHold(ctx context.Context, change HoldChange) (Inventory, error)
}

// ReservationRepository определяет чтение резервов.
// Запись резервов идёт только через InventoryRepository.ApplyHold вместе со счётчиками.
type ReservationRepository interface {
	// Get возвращает ErrNotFound, если у requester нет резерва на inventory
	Get(ctx context.Context, inventoryID, requesterID string) (Reservation, error)

	// ListByInventory возвращает все активные резервы записи
	ListByInventory(ctx context.Context, inventoryID string) ([]Reservation, error)

	// ListByRequester возвращает все активные резервы покупателя
	ListByRequester(ctx context.Context, requesterID string) ([]Reservation, error)
}

var (
	// ErrNotFound возвращается, когда запись не найдена в хранилище
	ErrNotFound = errors.New("not found")
	// ErrDuplicate возвращается при нарушении уникальности ключа
	ErrDuplicate = errors.New("duplicate key")
	// ErrVersionConflict возвращается, когда запись была изменена параллельно
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvariantViolation возвращается, когда запись нарушила бы 0 <= reserved <= quantity
	ErrInvariantViolation = errors.New("inventory invariant violation")
)

// CheckCounters проверяет инвариант счётчиков после применения дельт
func CheckCounters(quantity, reserved int32) error {
	if quantity < 0 || reserved < 0 || reserved > quantity {
		return ErrInvariantViolation
	}
	return nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/mimo-inventory/internal/repository"
)

// MemoryRepository реализует InventoryRepository и ReservationRepository используя in-memory хранилище
// Используется для разработки и тестирования
// Все операции защищены одним мьютексом, поэтому ApplyHold атомарен по определению
type MemoryRepository struct {
	mu           sync.RWMutex
	inventories  map[string]repository.Inventory
	keys         map[inventoryKey]string              // (product, variant, warehouse) -> inventory id
	reservations map[reservationKey]repository.Reservation
	now          func() time.Time
}

type inventoryKey struct {
	productID   string
	variantID   string
	warehouseID string
}

type reservationKey struct {
	inventoryID string
	requesterID string
}

// NewMemoryRepository создаёт новый пустой in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		inventories:  make(map[string]repository.Inventory),
		keys:         make(map[inventoryKey]string),
		reservations: make(map[reservationKey]repository.Reservation),
		now:          time.Now,
	}
}

// Create сохраняет новую запись, уникальность ключа проверяется под мьютексом
func (r *MemoryRepository) Create(ctx context.Context, inv repository.Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := inventoryKey{inv.ProductID, inv.VariantID, inv.WarehouseID}
	if _, exists := r.keys[key]; exists {
		return repository.ErrDuplicate
	}
	if _, exists := r.inventories[inv.ID]; exists {
		return repository.ErrDuplicate
	}
	if err := repository.CheckCounters(inv.Quantity, inv.ReservedQuantity); err != nil {
		return err
	}

	now := r.now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	r.inventories[inv.ID] = inv
	r.keys[key] = inv.ID
	return nil
}

// GetByID получает запись по id
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (repository.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, exists := r.inventories[id]
	if !exists {
		return repository.Inventory{}, repository.ErrNotFound
	}
	return inv, nil
}

// GetByKey получает запись по полному ключу
func (r *MemoryRepository) GetByKey(ctx context.Context, productID, variantID, warehouseID string) (repository.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.keys[inventoryKey{productID, variantID, warehouseID}]
	if !exists {
		return repository.Inventory{}, repository.ErrNotFound
	}
	return r.inventories[id], nil
}

// FindByProductAndVariant возвращает самую раннюю запись пары на любом складе
func (r *MemoryRepository) FindByProductAndVariant(ctx context.Context, productID, variantID string) (repository.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		found repository.Inventory
		ok    bool
	)
	for _, inv := range r.inventories {
		if inv.ProductID != productID || inv.VariantID != variantID {
			continue
		}
		if !ok || inv.CreatedAt.Before(found.CreatedAt) ||
			(inv.CreatedAt.Equal(found.CreatedAt) && inv.ID < found.ID) {
			found = inv
			ok = true
		}
	}
	if !ok {
		return repository.Inventory{}, repository.ErrNotFound
	}
	return found, nil
}

// SetQuantity перезаписывает quantity с проверкой версии и инварианта
func (r *MemoryRepository) SetQuantity(ctx context.Context, id string, quantity int32, updatedBy string, expectedVersion int64) (repository.Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, exists := r.inventories[id]
	if !exists {
		return repository.Inventory{}, repository.ErrNotFound
	}
	if inv.Version != expectedVersion {
		return repository.Inventory{}, repository.ErrVersionConflict
	}
	if err := repository.CheckCounters(quantity, inv.ReservedQuantity); err != nil {
		return repository.Inventory{}, err
	}

	inv.Quantity = quantity
	inv.LastUpdatedBy = updatedBy
	inv.Version++
	inv.UpdatedAt = r.now()
	r.inventories[id] = inv

	return inv, nil
}

// List возвращает все записи, отсортированные по времени создания
func (r *MemoryRepository) List(ctx context.Context) ([]repository.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collectLocked(func(repository.Inventory) bool { return true }), nil
}

// ListLowQuantity возвращает записи с quantity <= threshold
func (r *MemoryRepository) ListLowQuantity(ctx context.Context, threshold int32) ([]repository.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collectLocked(func(inv repository.Inventory) bool { return inv.Quantity <= threshold }), nil
}

// ApplyHold атомарно меняет счётчики и строку резерва
func (r *MemoryRepository) ApplyHold(ctx context.Context, change repository.HoldChange) (repository.Inventory, error) {
	if err := ctx.Err(); err != nil {
		return repository.Inventory{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, exists := r.inventories[change.InventoryID]
	if !exists {
		return repository.Inventory{}, repository.ErrNotFound
	}
	if inv.Version != change.ExpectedVersion {
		return repository.Inventory{}, repository.ErrVersionConflict
	}

	quantity := inv.Quantity + change.QuantityDelta
	reserved := inv.ReservedQuantity + change.ReservedDelta
	if err := repository.CheckCounters(quantity, reserved); err != nil {
		return repository.Inventory{}, err
	}

	key := reservationKey{change.InventoryID, change.RequesterID}
	now := r.now()

	switch {
	case change.DeleteReservation:
		if _, ok := r.reservations[key]; !ok {
			return repository.Inventory{}, repository.ErrNotFound
		}
		delete(r.reservations, key)
	case change.Reservation != nil:
		res := *change.Reservation
		if existing, ok := r.reservations[key]; ok {
			res.ID = existing.ID
			res.CreatedAt = existing.CreatedAt
		} else if res.CreatedAt.IsZero() {
			res.CreatedAt = now
		}
		res.InventoryID = change.InventoryID
		res.RequesterID = change.RequesterID
		res.UpdatedAt = now
		r.reservations[key] = res
	}

	inv.Quantity = quantity
	inv.ReservedQuantity = reserved
	inv.LastUpdatedBy = change.UpdatedBy
	inv.Version++
	inv.UpdatedAt = now
	r.inventories[inv.ID] = inv

	return inv, nil
}

// Get получает резерв покупателя
func (r *MemoryRepository) Get(ctx context.Context, inventoryID, requesterID string) (repository.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[reservationKey{inventoryID, requesterID}]
	if !ok {
		return repository.Reservation{}, repository.ErrNotFound
	}
	return res, nil
}

// ListByInventory возвращает резервы записи
func (r *MemoryRepository) ListByInventory(ctx context.Context, inventoryID string) ([]repository.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.Reservation, 0)
	for key, res := range r.reservations {
		if key.inventoryID == inventoryID {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

// ListByRequester возвращает резервы покупателя
func (r *MemoryRepository) ListByRequester(ctx context.Context, requesterID string) ([]repository.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.Reservation, 0)
	for key, res := range r.reservations {
		if key.requesterID == requesterID {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

// collectLocked вызывается только внутри захваченного мьютекса
func (r *MemoryRepository) collectLocked(match func(repository.Inventory) bool) []repository.Inventory {
	out := make([]repository.Inventory, 0, len(r.inventories))
	for _, inv := range r.inventories {
		if match(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sortReservations(out []repository.Reservation) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/catalog"
	"github.com/shestoi/mimo-inventory/internal/repository"
)

const instrumentationName = "inventory"

// DefaultMaxRetries - сколько раз повторять запись при конфликте версий
const DefaultMaxRetries = 3

// Options содержит настраиваемые параметры InventoryService
type Options struct {
	// MaxRetries - попытки записи при ErrVersionConflict, после исчерпания возвращается ErrInventoryInvariantViolation
	MaxRetries int
	// LowStockThreshold - при падении свободного остатка до этого значения публикуется EventStockLow.
	// Отрицательное значение отключает событие.
	LowStockThreshold int32
}

// InventoryService содержит бизнес-логику остатков и резервов
// Зависит от интерфейсов репозиториев, каталога и publisher, а не от конкретной реализации
type InventoryService struct {
	inventories  repository.InventoryRepository
	reservations repository.ReservationRepository
	catalog      catalog.Lookup
	publisher    EventPublisher
	logger       *zap.Logger

	locks             *keyedMutex
	maxRetries        int
	lowStockThreshold int32
	newID             func() string
	now               func() time.Time

	tracer          trace.Tracer
	reservedCounter metric.Int64Counter
	releaseCounter  metric.Int64Counter
	conflictCounter metric.Int64Counter
}

// NewInventoryService создаёт новый экземпляр InventoryService
func NewInventoryService(
	inventories repository.InventoryRepository,
	reservations repository.ReservationRepository,
	lookup catalog.Lookup,
	publisher EventPublisher,
	logger *zap.Logger,
	opts Options,
) *InventoryService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	meter := otel.Meter(instrumentationName)
	s := &InventoryService{
		inventories:       inventories,
		reservations:      reservations,
		catalog:           lookup,
		publisher:         publisher,
		logger:            logger,
		locks:             newKeyedMutex(),
		maxRetries:        opts.MaxRetries,
		lowStockThreshold: opts.LowStockThreshold,
		newID:             uuid.NewString,
		now:               func() time.Time { return time.Now().UTC() },
		tracer:            otel.Tracer(instrumentationName),
	}

	var err error
	if s.reservedCounter, err = meter.Int64Counter("inventory.reservations",
		metric.WithDescription("Committed reserve calls")); err != nil {
		logger.Warn("failed to create reservations counter", zap.Error(err))
	}
	if s.releaseCounter, err = meter.Int64Counter("inventory.releases",
		metric.WithDescription("Committed release calls by mode")); err != nil {
		logger.Warn("failed to create releases counter", zap.Error(err))
	}
	if s.conflictCounter, err = meter.Int64Counter("inventory.reservation_conflicts",
		metric.WithDescription("Optimistic concurrency conflicts retried")); err != nil {
		logger.Warn("failed to create conflicts counter", zap.Error(err))
	}

	return s
}

// ProductAndVariant - результат проверки пары product/variant
type ProductAndVariant struct {
	Product catalog.Product
	Variant *catalog.Variant
}

// ValidateProductAndVariant проверяет, что товар существует и variantID согласован с ним:
// у товара с вариантами вариант обязателен и должен принадлежать товару,
// у товара без вариантов вариант передавать нельзя.
func (s *InventoryService) ValidateProductAndVariant(ctx context.Context, productID, variantID string) (ProductAndVariant, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return ProductAndVariant{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return ProductAndVariant{}, fmt.Errorf("get product %s: %w", productID, err)
	}

	if !product.HasVariants {
		if variantID != "" {
			return ProductAndVariant{}, fmt.Errorf("%w: product %s, variant %s", ErrUnexpectedVariant, productID, variantID)
		}
		return ProductAndVariant{Product: product}, nil
	}

	if variantID == "" {
		return ProductAndVariant{}, fmt.Errorf("%w: product %s", ErrVariantRequired, productID)
	}

	variant, err := s.catalog.GetVariant(ctx, variantID)
	if err != nil {
		if errors.Is(err, catalog.ErrVariantNotFound) {
			return ProductAndVariant{}, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
		}
		return ProductAndVariant{}, fmt.Errorf("get variant %s: %w", variantID, err)
	}
	if variant.ProductID != productID {
		return ProductAndVariant{}, fmt.Errorf("%w: variant %s belongs to product %s, not %s",
			ErrVariantMismatch, variantID, variant.ProductID, productID)
	}

	return ProductAndVariant{Product: product, Variant: &variant}, nil
}

// AddInventoryInput содержит входные данные для создания записи остатка
type AddInventoryInput struct {
	ProductID   string
	VariantID   string
	WarehouseID string
	Quantity    int32
	UpdatedBy   string
}

// AddInventory создаёт запись остатка с reserved = 0
func (s *InventoryService) AddInventory(ctx context.Context, input AddInventoryInput) (repository.Inventory, error) {
	logger := platformobservability.L(ctx, s.logger)

	if input.Quantity < 0 {
		return repository.Inventory{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, input.Quantity)
	}

	// Быстрый путь; окончательно уникальность гарантирует индекс хранилища
	_, err := s.inventories.GetByKey(ctx, input.ProductID, input.VariantID, input.WarehouseID)
	if err == nil {
		return repository.Inventory{}, fmt.Errorf("%w: product %s, variant %q, warehouse %q",
			ErrDuplicateInventory, input.ProductID, input.VariantID, input.WarehouseID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return repository.Inventory{}, fmt.Errorf("check existing inventory: %w", err)
	}

	if _, err := s.ValidateProductAndVariant(ctx, input.ProductID, input.VariantID); err != nil {
		return repository.Inventory{}, err
	}

	inv := repository.Inventory{
		ID:               s.newID(),
		ProductID:        input.ProductID,
		VariantID:        input.VariantID,
		WarehouseID:      input.WarehouseID,
		Quantity:         input.Quantity,
		ReservedQuantity: 0,
		LastUpdatedBy:    input.UpdatedBy,
		CreatedAt:        s.now(),
	}
	if err := s.inventories.Create(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return repository.Inventory{}, fmt.Errorf("%w: product %s, variant %q, warehouse %q",
				ErrDuplicateInventory, input.ProductID, input.VariantID, input.WarehouseID)
		}
		return repository.Inventory{}, fmt.Errorf("create inventory: %w", err)
	}

	logger.Info("inventory created",
		zap.String("inventory_id", inv.ID),
		zap.String("product_id", inv.ProductID),
		zap.String("variant_id", inv.VariantID),
		zap.String("warehouse_id", inv.WarehouseID),
		zap.Int32("quantity", inv.Quantity),
	)
	s.publish(ctx, EventStockUpdated, inv, "", "", inv.Quantity)

	return inv, nil
}

// UpdateInventory административно перезаписывает общее количество (пополнение склада).
// reserved не меняется; количество ниже уже зарезервированного отклоняется.
func (s *InventoryService) UpdateInventory(ctx context.Context, inventoryID string, quantity int32, updatedBy string) (repository.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.UpdateInventory",
		trace.WithAttributes(
			attribute.String("inventory.id", inventoryID),
			attribute.Int("inventory.quantity", int(quantity)),
		))
	defer span.End()

	inv, err := s.updateInventory(ctx, inventoryID, quantity, updatedBy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return inv, err
}

func (s *InventoryService) updateInventory(ctx context.Context, inventoryID string, quantity int32, updatedBy string) (repository.Inventory, error) {
	logger := platformobservability.L(ctx, s.logger)

	if quantity < 0 {
		return repository.Inventory{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	unlock := s.locks.Lock(inventoryID)
	defer unlock()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		current, err := s.loadInventory(ctx, inventoryID)
		if err != nil {
			return repository.Inventory{}, err
		}

		updated, err := s.inventories.SetQuantity(ctx, inventoryID, quantity, updatedBy, current.Version)
		switch {
		case err == nil:
			logger.Info("inventory quantity updated",
				zap.String("inventory_id", inventoryID),
				zap.Int32("old_quantity", current.Quantity),
				zap.Int32("quantity", updated.Quantity),
				zap.Int32("reserved_quantity", updated.ReservedQuantity),
			)
			s.publish(ctx, EventStockUpdated, updated, "", "", updated.Quantity-current.Quantity)
			s.publishLowStock(ctx, current, updated)
			return updated, nil
		case errors.Is(err, repository.ErrVersionConflict):
			s.recordConflict(ctx, inventoryID, attempt)
			continue
		case errors.Is(err, repository.ErrInvariantViolation):
			return repository.Inventory{}, fmt.Errorf("%w: inventory %s: quantity %d is below reserved %d",
				ErrInventoryInvariantViolation, inventoryID, quantity, current.ReservedQuantity)
		case errors.Is(err, repository.ErrNotFound):
			return repository.Inventory{}, fmt.Errorf("%w: %s", ErrInventoryNotFound, inventoryID)
		default:
			return repository.Inventory{}, fmt.Errorf("update inventory %s: %w", inventoryID, err)
		}
	}

	return repository.Inventory{}, s.retriesExhausted(inventoryID)
}

// loadInventory читает запись и переводит ErrNotFound в ErrInventoryNotFound
func (s *InventoryService) loadInventory(ctx context.Context, inventoryID string) (repository.Inventory, error) {
	inv, err := s.inventories.GetByID(ctx, inventoryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Inventory{}, fmt.Errorf("%w: %s", ErrInventoryNotFound, inventoryID)
		}
		return repository.Inventory{}, fmt.Errorf("get inventory %s: %w", inventoryID, err)
	}
	return inv, nil
}

func (s *InventoryService) retriesExhausted(inventoryID string) error {
	return fmt.Errorf("%w: inventory %s: concurrent modification, %d attempts exhausted",
		ErrInventoryInvariantViolation, inventoryID, s.maxRetries)
}

func (s *InventoryService) recordConflict(ctx context.Context, inventoryID string, attempt int) {
	platformobservability.L(ctx, s.logger).Warn("inventory version conflict, retrying",
		zap.String("inventory_id", inventoryID),
		zap.Int("attempt", attempt),
		zap.Int("max_retries", s.maxRetries),
	)
	if s.conflictCounter != nil {
		s.conflictCounter.Add(ctx, 1)
	}
}

// publish отправляет событие; ошибка публикации не влияет на результат операции
func (s *InventoryService) publish(ctx context.Context, eventType string, inv repository.Inventory, requesterID string, mode ReleaseMode, delta int32) {
	event := StockEvent{
		Type:             eventType,
		InventoryID:      inv.ID,
		ProductID:        inv.ProductID,
		VariantID:        inv.VariantID,
		WarehouseID:      inv.WarehouseID,
		RequesterID:      requesterID,
		ReleaseMode:      mode,
		Delta:            delta,
		Quantity:         inv.Quantity,
		ReservedQuantity: inv.ReservedQuantity,
		Available:        inv.Available(),
		OccurredAt:       s.now(),
	}
	if err := s.publisher.PublishStockEvent(ctx, event); err != nil {
		platformobservability.L(ctx, s.logger).Warn("failed to publish stock event",
			zap.Error(err),
			zap.String("event_type", eventType),
			zap.String("inventory_id", inv.ID),
		)
	}
}

// publishLowStock публикует EventStockLow, только когда свободный остаток пересёк порог сверху вниз
func (s *InventoryService) publishLowStock(ctx context.Context, before, after repository.Inventory) {
	if s.lowStockThreshold < 0 {
		return
	}
	if before.Available() > s.lowStockThreshold && after.Available() <= s.lowStockThreshold {
		s.publish(ctx, EventStockLow, after, "", "", after.Available()-before.Available())
	}
}

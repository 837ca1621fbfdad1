package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/repository"
)

// ReleaseMode определяет, что происходит с удерживаемыми единицами при снятии резерва
type ReleaseMode string

const (
	// ReleaseCancel возвращает единицы в свободный остаток (корзина брошена)
	ReleaseCancel ReleaseMode = "cancel"
	// ReleaseFinalize списывает единицы со склада (заказ оплачен)
	ReleaseFinalize ReleaseMode = "finalize"
)

// ParseReleaseMode разбирает режим из строки без учёта регистра
func ParseReleaseMode(s string) (ReleaseMode, error) {
	switch ReleaseMode(strings.ToLower(strings.TrimSpace(s))) {
	case ReleaseCancel:
		return ReleaseCancel, nil
	case ReleaseFinalize:
		return ReleaseFinalize, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReleaseMode, s)
	}
}

// deltas возвращает изменения (quantity, reserved) при снятии резерва размером held
func (m ReleaseMode) deltas(held int32) (quantityDelta, reservedDelta int32, err error) {
	switch m {
	case ReleaseCancel:
		return 0, -held, nil
	case ReleaseFinalize:
		return -held, -held, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReleaseMode, string(m))
	}
}

// ReserveStock устанавливает резерв requester на inventory равным quantity.
// Повторный вызов с тем же quantity ничего не пишет.
func (s *InventoryService) ReserveStock(ctx context.Context, inventoryID, requesterID string, quantity int32) (repository.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ReserveStock",
		trace.WithAttributes(
			attribute.String("inventory.id", inventoryID),
			attribute.String("requester.id", requesterID),
			attribute.Int("reservation.quantity", int(quantity)),
		))
	defer span.End()

	res, err := s.reserveStock(ctx, inventoryID, requesterID, quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *InventoryService) reserveStock(ctx context.Context, inventoryID, requesterID string, quantity int32) (repository.Reservation, error) {
	logger := platformobservability.L(ctx, s.logger)

	if requesterID == "" {
		return repository.Reservation{}, ErrInvalidRequester
	}
	if quantity <= 0 {
		return repository.Reservation{}, fmt.Errorf("%w: reserve quantity must be positive, got %d (use release to drop a hold)",
			ErrInvalidQuantity, quantity)
	}

	unlock := s.locks.Lock(inventoryID)
	defer unlock()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		inv, err := s.loadInventory(ctx, inventoryID)
		if err != nil {
			return repository.Reservation{}, err
		}

		existing, found, err := s.currentHold(ctx, inventoryID, requesterID)
		if err != nil {
			return repository.Reservation{}, err
		}
		var currentHold int32
		if found {
			currentHold = existing.Quantity
		}

		if err := ValidateCapacity(inv, quantity, currentHold); err != nil {
			logger.Info("reservation rejected",
				zap.String("inventory_id", inventoryID),
				zap.String("requester_id", requesterID),
				zap.Int32("requested", quantity),
				zap.Int32("current_hold", currentHold),
				zap.Int32("available", inv.Available()),
			)
			return repository.Reservation{}, err
		}

		if found && currentHold == quantity {
			return existing, nil
		}

		now := s.now()
		next := repository.Reservation{
			ID:          s.newID(),
			InventoryID: inventoryID,
			RequesterID: requesterID,
			Quantity:    quantity,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if found {
			next.ID = existing.ID
			next.CreatedAt = existing.CreatedAt
		}

		updated, err := s.inventories.ApplyHold(ctx, repository.HoldChange{
			InventoryID:     inventoryID,
			ExpectedVersion: inv.Version,
			ReservedDelta:   quantity - currentHold,
			RequesterID:     requesterID,
			Reservation:     &next,
			UpdatedBy:       requesterID,
		})
		switch {
		case err == nil:
			logger.Info("stock reserved",
				zap.String("inventory_id", inventoryID),
				zap.String("requester_id", requesterID),
				zap.Int32("quantity", quantity),
				zap.Int32("previous_hold", currentHold),
				zap.Int32("reserved_quantity", updated.ReservedQuantity),
				zap.Int32("available", updated.Available()),
			)
			s.countReservation(ctx)
			s.publish(ctx, EventStockReserved, updated, requesterID, "", quantity-currentHold)
			s.publishLowStock(ctx, inv, updated)
			return next, nil
		case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrNotFound):
			s.recordConflict(ctx, inventoryID, attempt)
			continue
		case errors.Is(err, repository.ErrInvariantViolation):
			return repository.Reservation{}, fmt.Errorf("%w: inventory %s: reserve %d for %s",
				ErrInventoryInvariantViolation, inventoryID, quantity, requesterID)
		default:
			return repository.Reservation{}, fmt.Errorf("apply reservation on inventory %s: %w", inventoryID, err)
		}
	}

	return repository.Reservation{}, s.retriesExhausted(inventoryID)
}

// ReleaseStock снимает резерв requester с inventory в режиме mode и возвращает новое состояние остатка
func (s *InventoryService) ReleaseStock(ctx context.Context, inventoryID, requesterID string, mode ReleaseMode) (repository.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ReleaseStock",
		trace.WithAttributes(
			attribute.String("inventory.id", inventoryID),
			attribute.String("requester.id", requesterID),
			attribute.String("release.mode", string(mode)),
		))
	defer span.End()

	inv, err := s.releaseStock(ctx, inventoryID, requesterID, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return inv, err
}

func (s *InventoryService) releaseStock(ctx context.Context, inventoryID, requesterID string, mode ReleaseMode) (repository.Inventory, error) {
	logger := platformobservability.L(ctx, s.logger)

	if requesterID == "" {
		return repository.Inventory{}, ErrInvalidRequester
	}
	// режим проверяется до захвата блокировки
	if _, _, err := mode.deltas(0); err != nil {
		return repository.Inventory{}, err
	}

	unlock := s.locks.Lock(inventoryID)
	defer unlock()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		inv, err := s.loadInventory(ctx, inventoryID)
		if err != nil {
			return repository.Inventory{}, err
		}

		hold, found, err := s.currentHold(ctx, inventoryID, requesterID)
		if err != nil {
			return repository.Inventory{}, err
		}
		if !found {
			return repository.Inventory{}, fmt.Errorf("%w: inventory %s, requester %s",
				ErrReservationNotFound, inventoryID, requesterID)
		}

		quantityDelta, reservedDelta, err := mode.deltas(hold.Quantity)
		if err != nil {
			return repository.Inventory{}, err
		}

		updated, err := s.inventories.ApplyHold(ctx, repository.HoldChange{
			InventoryID:       inventoryID,
			ExpectedVersion:   inv.Version,
			QuantityDelta:     quantityDelta,
			ReservedDelta:     reservedDelta,
			RequesterID:       requesterID,
			DeleteReservation: true,
			UpdatedBy:         requesterID,
		})
		switch {
		case err == nil:
			logger.Info("stock released",
				zap.String("inventory_id", inventoryID),
				zap.String("requester_id", requesterID),
				zap.String("mode", string(mode)),
				zap.Int32("held", hold.Quantity),
				zap.Int32("quantity", updated.Quantity),
				zap.Int32("reserved_quantity", updated.ReservedQuantity),
			)
			s.countRelease(ctx, mode)
			s.publish(ctx, EventStockReleased, updated, requesterID, mode, reservedDelta)
			s.publishLowStock(ctx, inv, updated)
			return updated, nil
		case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrNotFound):
			// резерв мог быть снят параллельно; следующая итерация это увидит
			s.recordConflict(ctx, inventoryID, attempt)
			continue
		case errors.Is(err, repository.ErrInvariantViolation):
			return repository.Inventory{}, fmt.Errorf("%w: inventory %s: %s release of %d for %s",
				ErrInventoryInvariantViolation, inventoryID, mode, hold.Quantity, requesterID)
		default:
			return repository.Inventory{}, fmt.Errorf("apply release on inventory %s: %w", inventoryID, err)
		}
	}

	return repository.Inventory{}, s.retriesExhausted(inventoryID)
}

// ReleaseAllForRequester снимает все резервы requester и возвращает число снятых.
// Резервы, снятые параллельно, пропускаются. Остальные ошибки собираются через errors.Join,
// обработка продолжается для оставшихся резервов.
func (s *InventoryService) ReleaseAllForRequester(ctx context.Context, requesterID string, mode ReleaseMode) (int, error) {
	if requesterID == "" {
		return 0, ErrInvalidRequester
	}
	if _, _, err := mode.deltas(0); err != nil {
		return 0, err
	}

	holds, err := s.reservations.ListByRequester(ctx, requesterID)
	if err != nil {
		return 0, fmt.Errorf("list reservations of %s: %w", requesterID, err)
	}

	released := 0
	var errs []error
	for _, hold := range holds {
		if _, err := s.ReleaseStock(ctx, hold.InventoryID, requesterID, mode); err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		released++
	}

	platformobservability.L(ctx, s.logger).Info("requester holds released",
		zap.String("requester_id", requesterID),
		zap.String("mode", string(mode)),
		zap.Int("released", released),
		zap.Int("failed", len(errs)),
	)

	return released, errors.Join(errs...)
}

// currentHold возвращает резерв requester, found=false если резерва нет
func (s *InventoryService) currentHold(ctx context.Context, inventoryID, requesterID string) (repository.Reservation, bool, error) {
	res, err := s.reservations.Get(ctx, inventoryID, requesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Reservation{}, false, nil
		}
		return repository.Reservation{}, false, fmt.Errorf("get reservation %s/%s: %w", inventoryID, requesterID, err)
	}
	return res, true, nil
}

func (s *InventoryService) countReservation(ctx context.Context) {
	if s.reservedCounter != nil {
		s.reservedCounter.Add(ctx, 1)
	}
}

func (s *InventoryService) countRelease(ctx context.Context, mode ReleaseMode) {
	if s.releaseCounter != nil {
		s.releaseCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
	}
}

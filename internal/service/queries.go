package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	platformobservability "github.com/shestoi/mimo-inventory/platform/observability"

	"github.com/shestoi/mimo-inventory/internal/catalog"
	"github.com/shestoi/mimo-inventory/internal/repository"
)

// InventoryDetails - запись остатка вместе с данными товара и варианта из каталога.
// Product и Variant равны nil, если каталог их больше не знает.
type InventoryDetails struct {
	Inventory repository.Inventory
	Product   *catalog.Product
	Variant   *catalog.Variant
}

// Availability - результат проверки, хватит ли остатка на желаемый резерв
type Availability struct {
	InventoryID string
	Requested   int32
	CurrentHold int32
	Available   int32
	OK          bool
}

// GetInventory возвращает запись по id
func (s *InventoryService) GetInventory(ctx context.Context, inventoryID string) (repository.Inventory, error) {
	return s.loadInventory(ctx, inventoryID)
}

// GetInventoryByProductAndVariant возвращает самую раннюю запись для пары product/variant
func (s *InventoryService) GetInventoryByProductAndVariant(ctx context.Context, productID, variantID string) (repository.Inventory, error) {
	inv, err := s.inventories.FindByProductAndVariant(ctx, productID, variantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Inventory{}, fmt.Errorf("%w: product %s, variant %q", ErrInventoryNotFound, productID, variantID)
		}
		return repository.Inventory{}, fmt.Errorf("find inventory: %w", err)
	}
	return inv, nil
}

// GetLowQuantityProducts возвращает записи с quantity <= threshold
func (s *InventoryService) GetLowQuantityProducts(ctx context.Context, threshold int32) ([]repository.Inventory, error) {
	items, err := s.inventories.ListLowQuantity(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("list low quantity: %w", err)
	}
	return items, nil
}

// GetInventoriesWithProductAndVariant возвращает все записи с данными каталога.
// Товары и варианты запрашиваются один раз на id.
func (s *InventoryService) GetInventoriesWithProductAndVariant(ctx context.Context) ([]InventoryDetails, error) {
	logger := platformobservability.L(ctx, s.logger)

	items, err := s.inventories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventories: %w", err)
	}

	products := make(map[string]*catalog.Product)
	variants := make(map[string]*catalog.Variant)

	out := make([]InventoryDetails, 0, len(items))
	for _, inv := range items {
		d := InventoryDetails{Inventory: inv}

		p, seen := products[inv.ProductID]
		if !seen {
			product, err := s.catalog.GetProduct(ctx, inv.ProductID)
			switch {
			case err == nil:
				p = &product
			case errors.Is(err, catalog.ErrProductNotFound):
				logger.Warn("inventory references unknown product",
					zap.String("inventory_id", inv.ID), zap.String("product_id", inv.ProductID))
			default:
				return nil, fmt.Errorf("get product %s: %w", inv.ProductID, err)
			}
			products[inv.ProductID] = p
		}
		d.Product = p

		if inv.VariantID != "" {
			v, seen := variants[inv.VariantID]
			if !seen {
				variant, err := s.catalog.GetVariant(ctx, inv.VariantID)
				switch {
				case err == nil:
					v = &variant
				case errors.Is(err, catalog.ErrVariantNotFound):
					logger.Warn("inventory references unknown variant",
						zap.String("inventory_id", inv.ID), zap.String("variant_id", inv.VariantID))
				default:
					return nil, fmt.Errorf("get variant %s: %w", inv.VariantID, err)
				}
				variants[inv.VariantID] = v
			}
			d.Variant = v
		}

		out = append(out, d)
	}
	return out, nil
}

// GetReservation возвращает резерв requester на inventory
func (s *InventoryService) GetReservation(ctx context.Context, inventoryID, requesterID string) (repository.Reservation, error) {
	res, found, err := s.currentHold(ctx, inventoryID, requesterID)
	if err != nil {
		return repository.Reservation{}, err
	}
	if !found {
		return repository.Reservation{}, fmt.Errorf("%w: inventory %s, requester %s", ErrReservationNotFound, inventoryID, requesterID)
	}
	return res, nil
}

// ListReservations возвращает активные резервы записи
func (s *InventoryService) ListReservations(ctx context.Context, inventoryID string) ([]repository.Reservation, error) {
	if _, err := s.loadInventory(ctx, inventoryID); err != nil {
		return nil, err
	}
	items, err := s.reservations.ListByInventory(ctx, inventoryID)
	if err != nil {
		return nil, fmt.Errorf("list reservations of %s: %w", inventoryID, err)
	}
	return items, nil
}

// CheckAvailability прогоняет ValidateCapacity для текущего резерва requester, ничего не записывая.
// InsufficientStock не считается ошибкой и возвращается как OK=false.
func (s *InventoryService) CheckAvailability(ctx context.Context, inventoryID, requesterID string, quantity int32) (Availability, error) {
	if quantity < 0 {
		return Availability{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	inv, err := s.loadInventory(ctx, inventoryID)
	if err != nil {
		return Availability{}, err
	}

	var currentHold int32
	if requesterID != "" {
		hold, found, err := s.currentHold(ctx, inventoryID, requesterID)
		if err != nil {
			return Availability{}, err
		}
		if found {
			currentHold = hold.Quantity
		}
	}

	result := Availability{
		InventoryID: inventoryID,
		Requested:   quantity,
		CurrentHold: currentHold,
		Available:   inv.Available(),
		OK:          true,
	}
	if err := ValidateCapacity(inv, quantity, currentHold); err != nil {
		if !errors.Is(err, ErrInsufficientStock) {
			return Availability{}, err
		}
		result.OK = false
	}
	return result, nil
}

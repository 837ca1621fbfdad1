package service

import (
	"fmt"

	"github.com/shestoi/mimo-inventory/internal/repository"
)

// ValidateCapacity проверяет, можно ли изменить резерв с currentHold на requestedHold.
// Уменьшение резерва (delta <= 0) разрешено всегда, увеличение - только если
// свободного остатка хватает на delta. Функция чистая, ничего не пишет.
func ValidateCapacity(inv repository.Inventory, requestedHold, currentHold int32) error {
	delta := requestedHold - currentHold
	if delta <= 0 {
		return nil
	}

	available := inv.Available()
	if available < delta {
		return fmt.Errorf("%w: inventory %s has %d available, %d more requested",
			ErrInsufficientStock, inv.ID, available, delta)
	}
	return nil
}

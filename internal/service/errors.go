package service

import "errors"

// Ошибки service слоя. Возвращаются обёрнутыми через fmt.Errorf("%w: ...") с id,
// который вызвал ошибку, сравнивать нужно через errors.Is.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrVariantRequired     = errors.New("variant is required for product with variants")
	ErrVariantMismatch     = errors.New("variant does not belong to product")
	ErrUnexpectedVariant   = errors.New("product has no variants")
	ErrInventoryNotFound   = errors.New("inventory not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrDuplicateInventory  = errors.New("inventory already exists")

	// ErrInsufficientStock - штатный бизнес-отказ, не баг
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInventoryInvariantViolation означает нарушение 0 <= reserved <= quantity
	// или исчерпание retry при конкурентной записи. При правильной сериализации не должна возникать.
	ErrInventoryInvariantViolation = errors.New("inventory invariant violation")

	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidRequester   = errors.New("requester id is required")
	ErrInvalidReleaseMode = errors.New("invalid release mode")
)

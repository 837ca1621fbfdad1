// Package catalog предоставляет чтение товаров и вариантов товаров,
// нужное inventory сервису для проверки согласованности product/variant.
// Сам каталог (CRUD) принадлежит другому сервису, здесь только lookup.
package catalog

import (
	"context"
	"errors"
)

// Product - минимальное представление товара для inventory
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	HasVariants bool   `json:"has_variants"`
}

// Variant - минимальное представление варианта товара
type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=Lookup --dir=. --output=./mocks --outpkg=mocks

// Lookup определяет интерфейс чтения каталога
type Lookup interface {
	// GetProduct возвращает ErrProductNotFound, если товара нет
	GetProduct(ctx context.Context, productID string) (Product, error)
	// GetVariant возвращает ErrVariantNotFound, если варианта нет
	GetVariant(ctx context.Context, variantID string) (Variant, error)
}

var (
	// ErrProductNotFound возвращается, когда товар не найден в каталоге
	ErrProductNotFound = errors.New("product not found")
	// ErrVariantNotFound возвращается, когда вариант не найден в каталоге
	ErrVariantNotFound = errors.New("variant not found")
)

package catalog

import (
	"context"
	"sync"
)

// MemoryLookup - in-memory каталог для локальной разработки и тестов
type MemoryLookup struct {
	mu       sync.RWMutex
	products map[string]Product
	variants map[string]Variant
}

// NewMemoryLookup создаёт пустой каталог
func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{
		products: make(map[string]Product),
		variants: make(map[string]Variant),
	}
}

// AddProduct добавляет или заменяет товар
func (l *MemoryLookup) AddProduct(p Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = p
}

// AddVariant добавляет или заменяет вариант
func (l *MemoryLookup) AddVariant(v Variant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.variants[v.ID] = v
}

func (l *MemoryLookup) GetProduct(ctx context.Context, productID string) (Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (l *MemoryLookup) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.variants[variantID]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

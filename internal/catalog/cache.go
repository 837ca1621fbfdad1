package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedLookup оборачивает Lookup read-through кэшем в Redis.
// NotFound не кэшируется: товар может появиться в каталоге в любой момент.
type CachedLookup struct {
	next   Lookup
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLookup создаёт кэширующий lookup
func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedLookup {
	return &CachedLookup{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func productKey(productID string) string {
	return fmt.Sprintf("catalog:product:%s", productID)
}

func variantKey(variantID string) string {
	return fmt.Sprintf("catalog:variant:%s", variantID)
}

// GetProduct сначала читает Redis, при промахе идёт в next и кладёт результат в кэш
func (c *CachedLookup) GetProduct(ctx context.Context, productID string) (Product, error) {
	var p Product
	if c.get(ctx, productKey(productID), &p) {
		return p, nil
	}

	p, err := c.next.GetProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	c.set(ctx, productKey(productID), p)
	return p, nil
}

// GetVariant аналогично GetProduct
func (c *CachedLookup) GetVariant(ctx context.Context, variantID string) (Variant, error) {
	var v Variant
	if c.get(ctx, variantKey(variantID), &v) {
		return v, nil
	}

	v, err := c.next.GetVariant(ctx, variantID)
	if err != nil {
		return Variant{}, err
	}
	c.set(ctx, variantKey(variantID), v)
	return v, nil
}

// get возвращает true при попадании в кэш. Ошибки Redis не ломают lookup, только логируются.
func (c *CachedLookup) get(ctx context.Context, key string, dst interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("catalog cache get failed", zap.Error(err), zap.String("key", key))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("catalog cache entry corrupted", zap.Error(err), zap.String("key", key))
		return false
	}
	return true
}

func (c *CachedLookup) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("catalog cache marshal failed", zap.Error(err), zap.String("key", key))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache set failed", zap.Error(err), zap.String("key", key))
	}
}

package idempotency

import (
	"context"
	"time"
)

// Store хранит информацию об обработанных событиях для обеспечения idempotency consumer'а
type Store interface {
	// MarkProcessed сохраняет eventID как обработанный. Повторный вызов не ошибка.
	// ttl определяет время жизни записи (после истечения событие может быть обработано повторно).
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error

	// IsProcessed возвращает true, если eventID уже был обработан и ttl ещё не истёк
	IsProcessed(ctx context.Context, eventID string) (bool, error)
}

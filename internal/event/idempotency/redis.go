package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore хранит обработанные event_id в Redis ключами processed_event:<id> с TTL.
// Переживает рестарты и общий для всех реплик consumer group.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore создаёт store поверх Redis клиента
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func processedKey(eventID string) string {
	return fmt.Sprintf("processed_event:%s", eventID)
}

// MarkProcessed ставит ключ через SET NX, существующая запись с её TTL не перезаписывается
func (s *RedisStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := s.client.SetNX(ctx, processedKey(eventID), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("mark event %s processed: %w", eventID, err)
	}
	return nil
}

// IsProcessed проверяет наличие ключа
func (s *RedisStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check event %s processed: %w", eventID, err)
	}
	return n > 0, nil
}

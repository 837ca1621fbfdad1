package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// hashFieldUserID - поле hash, в которое IAM пишет id пользователя
const hashFieldUserID = "user_id"

// ErrSessionNotFound возвращается, если сессии нет, она истекла или в ней нет user_id
var ErrSessionNotFound = errors.New("session not found")

// Resolver определяет интерфейс получения user_id по session_id
type Resolver interface {
	UserIDBySession(ctx context.Context, sessionID string) (string, error)
}

// RedisResolver читает сессии, которые IAM хранит в Redis hash session:<id>.
// Inventory сессии только читает, создание и продление остаются за IAM.
type RedisResolver struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisResolver создаёт resolver поверх общего с IAM Redis
func NewRedisResolver(client *redis.Client, logger *zap.Logger) *RedisResolver {
	return &RedisResolver{
		client: client,
		logger: logger,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// UserIDBySession получает user_id по session_id
func (r *RedisResolver) UserIDBySession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	userID, err := r.client.HGet(ctx, sessionKey(sessionID), hashFieldUserID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Debug("session hash not found", zap.String("session_id", sessionID))
			return "", ErrSessionNotFound
		}
		r.logger.Error("failed to get session hash from redis",
			zap.Error(err),
			zap.String("session_id", sessionID),
		)
		return "", fmt.Errorf("failed to get session: %w", err)
	}

	if userID == "" {
		r.logger.Debug("session hash has empty user_id", zap.String("session_id", sessionID))
		return "", ErrSessionNotFound
	}

	return userID, nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IssueDevSession создаёт сессию в том же формате, что пишет IAM.
// Только для локальной разработки (inventoryctl session), в проде сессии выдаёт IAM.
func IssueDevSession(ctx context.Context, client *redis.Client, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}

	sessionID := uuid.NewString()
	key := sessionKey(sessionID)

	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hashFieldUserID, userID, "created_at", time.Now().UTC().Format(time.RFC3339))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("issue session: %w", err)
	}
	return sessionID, nil
}

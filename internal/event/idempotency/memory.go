package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore реализует Store используя in-memory map.
// Используется для local окружения и тестов, между рестартами ничего не помнит.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]time.Time // eventID -> expiresAt
	now    func() time.Time
}

// NewMemoryStore создаёт новый in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkProcessed сохраняет eventID как обработанный с указанным ttl
func (s *MemoryStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupExpiredLocked()
	s.events[eventID] = s.now().Add(ttl)
	return nil
}

// IsProcessed проверяет, был ли eventID уже обработан
func (s *MemoryStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, exists := s.events[eventID]
	if !exists {
		return false, nil
	}
	if !s.now().Before(expiresAt) {
		delete(s.events, eventID)
		return false, nil
	}
	return true, nil
}

// cleanupExpiredLocked удаляет протухшие записи (вызывается с уже захваченным lock)
func (s *MemoryStore) cleanupExpiredLocked() {
	now := s.now()
	for eventID, expiresAt := range s.events {
		if !now.Before(expiresAt) {
			delete(s.events, eventID)
		}
	}
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/teamhub/realtime-gateway/internal/domain"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.PresenceRecord
}

// NewMemoryStore creates a StatusStore that keeps records in process memory.
// It is used when no database is configured.
func NewMemoryStore() StatusStore {
	return &memoryStore{records: make(map[string]domain.PresenceRecord)}
}

func (s *memoryStore) Load(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memoryStore) SaveStatus(ctx context.Context, rec domain.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.UserID]
	if !ok {
		stored = domain.PresenceRecord{UserID: rec.UserID, LastSeenAt: rec.LastSeenAt}
	}
	if rec.Status.IsOverride() {
		stored.Status = rec.Status
		stored.StatusMessage = rec.StatusMessage
		stored.StatusExpiresAt = rec.StatusExpiresAt
	} else {
		stored.Status = domain.StatusOffline
		stored.StatusMessage = nil
		stored.StatusExpiresAt = nil
	}
	s.records[rec.UserID] = stored
	return nil
}

func (s *memoryStore) Touch(ctx context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[userID]
	if !ok {
		stored = domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}
	}
	stored.LastSeenAt = lastSeen
	s.records[userID] = stored
	return nil
}

func (s *memoryStore) Close() error { return nil }

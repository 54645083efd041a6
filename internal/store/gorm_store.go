package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/pkg/database"
)

// UserPresence is the persisted form of a presence record.
// Status holds the manual override, or is empty when the status is derived.
type UserPresence struct {
	UserID          string  `gorm:"primaryKey;size:64"`
	Status          string  `gorm:"size:32"`
	StatusMessage   *string `gorm:"size:255"`
	StatusExpiresAt *time.Time
	LastSeenAt      time.Time
	UpdatedAt       time.Time
}

func (UserPresence) TableName() string { return "user_presence" }

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a StatusStore backed by db and migrates its table.
func NewGormStore(db *gorm.DB) (StatusStore, error) {
	if err := database.AutoMigrate(db, &UserPresence{}); err != nil {
		return nil, fmt.Errorf("failed to migrate user_presence: %w", err)
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) Load(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	var row UserPresence
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load presence for %s: %w", userID, err)
	}

	rec := &domain.PresenceRecord{
		UserID:          row.UserID,
		Status:          domain.StatusOffline,
		StatusMessage:   row.StatusMessage,
		StatusExpiresAt: row.StatusExpiresAt,
		LastSeenAt:      row.LastSeenAt,
	}
	if row.Status != "" {
		if st, err := domain.ParseStatus(row.Status); err == nil {
			rec.Status = st
		}
	}
	return rec, nil
}

func (s *gormStore) SaveStatus(ctx context.Context, rec domain.PresenceRecord) error {
	row := UserPresence{
		UserID:          rec.UserID,
		StatusMessage:   rec.StatusMessage,
		StatusExpiresAt: rec.StatusExpiresAt,
		LastSeenAt:      rec.LastSeenAt,
	}
	if rec.Status.IsOverride() {
		row.Status = string(rec.Status)
	} else {
		row.StatusMessage = nil
		row.StatusExpiresAt = nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "status_message", "status_expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save status for %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *gormStore) Touch(ctx context.Context, userID string, lastSeen time.Time) error {
	row := UserPresence{UserID: userID, LastSeenAt: lastSeen}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to touch presence for %s: %w", userID, err)
	}
	return nil
}

func (s *gormStore) Close() error {
	return database.Close(s.db)
}

package store

import (
	"context"
	"time"

	"github.com/teamhub/realtime-gateway/internal/domain"
)

// StatusStore persists manual status overrides and last-seen timestamps.
// Instances sharing a store only overwrite an override when the override itself changes.
type StatusStore interface {
	// Load returns the stored record for a user, or nil if there is none.
	Load(ctx context.Context, userID string) (*domain.PresenceRecord, error)

	// SaveStatus upserts a user's override, message and expiry. A record whose status
	// is not an override clears the stored override. The last-seen time is only written
	// when the row is created.
	SaveStatus(ctx context.Context, rec domain.PresenceRecord) error

	// Touch upserts a user's last-seen time and leaves the override untouched.
	Touch(ctx context.Context, userID string, lastSeen time.Time) error

	// Close releases the store's resources.
	Close() error
}

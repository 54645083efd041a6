package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamhub/realtime-gateway/internal/domain"
	"github.com/teamhub/realtime-gateway/pkg/database"
)

func newSQLiteStore(t *testing.T) StatusStore {
	t.Helper()
	db, err := database.New(&database.Config{Driver: "sqlite", FilePath: "file::memory:", MaxOpenConns: 1, LogLevel: "silent"})
	require.NoError(t, err)
	s, err := NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]StatusStore {
	return map[string]StatusStore{
		"gorm":   newSQLiteStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec, err := s.Load(ctx, "u1")
			require.NoError(t, err)
			assert.Nil(t, rec)

			msg := "in a meeting"
			expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
			seen := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.SaveStatus(ctx, domain.PresenceRecord{
				UserID:          "u1",
				Status:          domain.StatusBusy,
				StatusMessage:   &msg,
				StatusExpiresAt: &expires,
				LastSeenAt:      seen,
				Connections:     3,
			}))

			rec, err = s.Load(ctx, "u1")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, domain.StatusBusy, rec.Status)
			require.NotNil(t, rec.StatusMessage)
			assert.Equal(t, msg, *rec.StatusMessage)
			require.NotNil(t, rec.StatusExpiresAt)
			assert.True(t, expires.Equal(*rec.StatusExpiresAt))
			assert.True(t, seen.Equal(rec.LastSeenAt))
			assert.Zero(t, rec.Connections)
		})
	}
}

func TestStoreDropsDerivedStatus(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg := "lunch"
			require.NoError(t, s.SaveStatus(ctx, domain.PresenceRecord{UserID: "u2", Status: domain.StatusBusy, StatusMessage: &msg}))
			require.NoError(t, s.SaveStatus(ctx, domain.PresenceRecord{UserID: "u2", Status: domain.StatusOnline}))

			rec, err := s.Load(ctx, "u2")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, domain.StatusOffline, rec.Status)
			assert.Nil(t, rec.StatusMessage)
		})
	}
}

func TestTouchKeepsOverride(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			msg := "heads down"
			require.NoError(t, s.SaveStatus(ctx, domain.PresenceRecord{UserID: "u3", Status: domain.StatusDoNotDisturb, StatusMessage: &msg}))

			seen := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.Touch(ctx, "u3", seen))

			rec, err := s.Load(ctx, "u3")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, domain.StatusDoNotDisturb, rec.Status)
			require.NotNil(t, rec.StatusMessage)
			assert.Equal(t, msg, *rec.StatusMessage)
			assert.True(t, seen.Equal(rec.LastSeenAt))
		})
	}
}

func TestTouchCreatesRecord(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seen := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.Touch(ctx, "u4", seen))

			rec, err := s.Load(ctx, "u4")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, domain.StatusOffline, rec.Status)
			assert.True(t, seen.Equal(rec.LastSeenAt))

			// a later override keeps the recorded last-seen time
			require.NoError(t, s.SaveStatus(ctx, domain.PresenceRecord{UserID: "u4", Status: domain.StatusAway}))
			rec, err = s.Load(ctx, "u4")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusAway, rec.Status)
			assert.True(t, seen.Equal(rec.LastSeenAt))
		})
	}
}

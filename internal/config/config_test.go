package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.InstanceID)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, time.Duration(0), cfg.Presence.OfflineGracePeriod)
	assert.Equal(t, 5*time.Second, cfg.Broadcast.SendTimeout)
	assert.False(t, cfg.Relay.Enabled)
	assert.Equal(t, "realtime:relay", cfg.Relay.Channel)
	assert.Equal(t, "redis", cfg.Relay.Driver)
	assert.Equal(t, 3*time.Second, cfg.Relay.Redis.ReadTimeout)
	assert.Equal(t, "realtime-events", cfg.Kafka.Topic)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 9000
  instance_id: gw-test
  allowed_origins:
    - https://app.teamhub.dev
presence:
  offline_grace_period: 15s
relay:
  enabled: true
  redis:
    address: redis:6379
database:
  enabled: true
  driver: postgres
  port: 5433
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_ENABLED", "true")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "gw-test", cfg.Server.InstanceID)
	assert.Equal(t, []string{"https://app.teamhub.dev"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 15*time.Second, cfg.Presence.OfflineGracePeriod)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "redis:6379", cfg.Relay.Redis.Address)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Kafka.Enabled)
}

func TestInvalidDurationRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("broadcast:\n  send_timeout: soon\n"), 0o600))

	_, err := LoadFrom(dir)
	assert.Error(t, err)
}

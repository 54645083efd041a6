package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFile(t *testing.T) {
	v, err := Load(t.TempDir(), "missing")
	require.NoError(t, err)

	v.SetDefault("server.port", 8080)
	assert.Equal(t, 8080, v.GetInt("server.port"))
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("server: [\n"), 0o600))

	_, err := Load(dir, "broken")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	v, err := Load(t.TempDir(), "missing")
	require.NoError(t, err)

	v.Set("a", "150ms")
	v.Set("b", "later")

	assert.Equal(t, 150*time.Millisecond, Duration(v, "a", time.Second))
	assert.Equal(t, time.Second, Duration(v, "b", time.Second))
	assert.Equal(t, 2*time.Second, Duration(v, "unset", 2*time.Second))
}

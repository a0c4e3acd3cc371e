package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	cfg := Load()

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 1000, cfg.Store.MaxPendingPerName)
	assert.Equal(t, "android", cfg.Bridge.Platform)
	assert.True(t, cfg.Headless.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Headless.TaskTimeout)
	assert.Equal(t, "bridge:pending_events", cfg.Notifier.RedisChannel)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingSecret)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("AUTH_SECRET", "s3cret")
	t.Setenv("BRIDGE_PLATFORM", "ios")
	t.Setenv("STORE_MAX_PENDING_PER_NAME", "50")
	t.Setenv("HEADLESS_ENABLED", "false")
	t.Setenv("HEADLESS_TASK_TIMEOUT", "90")
	t.Setenv("SSE_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ios", cfg.Bridge.Platform)
	assert.Equal(t, 50, cfg.Store.MaxPendingPerName)
	assert.False(t, cfg.Headless.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Headless.TaskTimeout)
	assert.Equal(t, 5*time.Second, cfg.SSE.HeartbeatInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestValidate_RejectsNonPositiveLimits(t *testing.T) {
	cfg := Load()
	cfg.Auth.Secret = "x"
	cfg.Store.MaxPendingPerName = 0
	cfg.Headless.TaskTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_MAX_PENDING_PER_NAME")
	assert.Contains(t, err.Error(), "HEADLESS_TASK_TIMEOUT")
}

func TestValidate_RejectsNonPositiveStreamDurations(t *testing.T) {
	t.Setenv("AUTH_SECRET", "x")
	t.Setenv("SSE_HEARTBEAT_INTERVAL", "0s")
	t.Setenv("SSE_CONNECTION_TIMEOUT", "-1m")

	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSE_HEARTBEAT_INTERVAL")
	assert.Contains(t, err.Error(), "SSE_CONNECTION_TIMEOUT")

	cfg := Load()
	cfg.SSE.HeartbeatInterval = time.Second
	cfg.SSE.ConnectionTimeout = time.Minute
	assert.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BRIDGE_TEST_DOTENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BRIDGE_TEST_DOTENV_VALUE") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("BRIDGE_TEST_DOTENV_VALUE"))
}

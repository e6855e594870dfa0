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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.LockTTL)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Worker.BaseDelay)
	assert.Equal(t, 16*time.Minute, cfg.Worker.MaxDelay)
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.Equal(t, "memory", cfg.PubSub.Provider)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
scheduler:
  interval: 30s
  lock_ttl: 2m
worker:
  concurrency: 8
storage:
  provider: gcs
  bucket: regwatch-raw
redis:
  addr: redis.internal:6379
logging:
  development: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "gcs", cfg.Storage.Provider)
	assert.Equal(t, "regwatch-raw", cfg.Storage.Bucket)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REGWATCH_SERVER_PORT", "7070")
	t.Setenv("REGWATCH_REDIS_ADDR", "env-redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("BadPort", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("LockTTLShorterThanInterval", func(t *testing.T) {
		cfg := base()
		cfg.Scheduler.Interval = 10 * time.Minute
		cfg.Scheduler.LockTTL = time.Minute
		assert.Error(t, cfg.Validate())
	})

	t.Run("GCSWithoutBucket", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Provider = "gcs"
		cfg.Storage.Bucket = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("UnknownStorageProvider", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Provider = "s3"
		assert.Error(t, cfg.Validate())
	})

	t.Run("MaxDelayBelowBase", func(t *testing.T) {
		cfg := base()
		cfg.Worker.BaseDelay = time.Minute
		cfg.Worker.MaxDelay = time.Second
		assert.Error(t, cfg.Validate())
	})
}

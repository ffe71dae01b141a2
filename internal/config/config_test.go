package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("ACH_PG_PASSWORD", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
store:
  driver: memory
postgres:
  password: ${ACH_PG_PASSWORD}
kafka:
  enabled: true
  batch_timeout: 250ms
engine:
  workers: 2
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Postgres.Password)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Kafka.BatchTimeout)
	assert.Equal(t, 2*time.Second, cfg.Kafka.RetryBackoff)
	assert.Equal(t, 2, cfg.Engine.Workers)

	// untouched sections fall back to defaults
	assert.Equal(t, "kicker-events", cfg.Kafka.EventsTopic)
	assert.Equal(t, 3, cfg.Engine.RetryAttempts)
	assert.Equal(t, 50, cfg.Feed.DefaultLimit)
	assert.False(t, cfg.Retry.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.True(t, cfg.Retry.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 1024, cfg.Feed.BufferSize)
	assert.Equal(t, "postgres://:@localhost:5432/?sslmode=disable", cfg.Postgres.ConnectionString())
}

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

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "pulse.db", cfg.Database.Path)
	assert.Equal(t, time.Second, cfg.Workers.SplitterInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Workers.ExecutorInterval)
	assert.Equal(t, 20, cfg.Workers.ExecutorBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Workers.MonitorInterval)
	assert.Equal(t, 2*time.Minute, cfg.Workers.SplitTimeout)
	assert.Equal(t, time.Minute, cfg.Workers.ExecutionTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
database:
  path: custom.db
workers:
  executor_interval: 250ms
  executor_batch_size: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Workers.ExecutorInterval)
	assert.Equal(t, 50, cfg.Workers.ExecutorBatchSize)
	// Unset keys keep their defaults.
	assert.Equal(t, time.Second, cfg.Workers.SplitterInterval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidWorkerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
workers:
  executor_batch_size: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

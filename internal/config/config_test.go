package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 0.8, cfg.Rails.RiskThreshold)
	assert.Equal(t, "memory", cfg.Memory.Backend)
}

func TestFileOverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
server:
  port: "9999"
memory:
  backend: redis
  redis_addr: localhost:6379
breaker:
  failure_threshold: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Memory.Backend)
	assert.Equal(t, 2, cfg.Breaker.FailureThreshold)
	// untouched sections keep defaults
	assert.Equal(t, int64(5000), cfg.Rails.LatencyBudgetMs)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
}

func TestEnvPortOverride(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("BUS_PORT", "7071")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 7071, cfg.Bus.Port)
}

func TestEnvBusPortRejectsNonNumeric(t *testing.T) {
	t.Setenv("BUS_PORT", "not-a-port")
	_, err := LoadConfig("")
	require.Error(t, err)
}

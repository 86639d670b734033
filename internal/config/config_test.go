package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 50, cfg.MaxConcurrentWorkflows)
	require.Equal(t, 10, cfg.MaxConcurrentSteps)
	require.Equal(t, 24*time.Hour, cfg.HistoryRetention)
	require.Equal(t, time.Second, cfg.ReloadDebounce)
	require.Equal(t, 30*time.Second, cfg.HealthCheckDefault)
	require.True(t, cfg.EnvDiscovery)
	require.False(t, cfg.DNSDiscovery.Enabled)
	require.Equal(t, "type=mcp", cfg.ClusterDiscovery.Label)

	require.Equal(t, time.Second, cfg.Backoff.BaseDelay)
	require.Equal(t, 30*time.Second, cfg.Backoff.MaxDelay)
	require.Equal(t, 2.0, cfg.Backoff.Multiplier)
	require.Equal(t, 0.1, cfg.Backoff.JitterFactor)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STATION_MESH_MAX_CONCURRENT_STEPS", "4")
	t.Setenv("STATION_MESH_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxConcurrentSteps)
	require.True(t, cfg.Debug)
}

func TestValidateRejectsBadPoolBounds(t *testing.T) {
	cfg := &Config{
		MaxConcurrentWorkflows: 1,
		MaxConcurrentSteps:     1,
		Pool:                   PoolConfig{MinSize: 10, MaxSize: 2},
	}
	require.Error(t, cfg.validate())
}

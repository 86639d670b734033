// Package config loads orchestrator tuning knobs via viper, following
// the teacher's env-var-first configuration style.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable referenced by spec.md's three subsystems.
type Config struct {
	Debug bool

	// Workflow Engine (spec.md §4.4, §5)
	MaxConcurrentWorkflows int
	MaxConcurrentSteps     int
	HistoryRetention       time.Duration

	// Discovery Registry (spec.md §4.7)
	RegistryFilePath   string
	ReloadDebounce     time.Duration
	HealthCheckDefault time.Duration
	EnvDiscovery       bool
	DNSDiscovery       DNSDiscoveryConfig
	MulticastDiscovery MulticastDiscoveryConfig
	ClusterDiscovery   ClusterDiscoveryConfig

	// Resilient Client (spec.md §4.2)
	DefaultCallTimeout time.Duration
	DefaultMaxRetries  int
	Pool               PoolConfig
	Backoff            BackoffConfig
}

// DNSDiscoveryConfig configures the DNS SRV auxiliary source.
type DNSDiscoveryConfig struct {
	Enabled bool
	Domain  string
}

// MulticastDiscoveryConfig configures the UDP multicast auxiliary source.
type MulticastDiscoveryConfig struct {
	Enabled bool
	Group   string // e.g. "224.0.0.251:9999"
	Iface   string
}

// ClusterDiscoveryConfig configures the cluster-API auxiliary source.
type ClusterDiscoveryConfig struct {
	Enabled   bool
	Namespace string
	Label     string // defaults to "type=mcp"
}

// PoolConfig is the default connection-pool shape (spec.md §4.2).
type PoolConfig struct {
	MinSize        int
	MaxSize        int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

// BackoffConfig is the default retry backoff shape (spec.md §4.2).
type BackoffConfig struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// Load reads configuration from environment variables prefixed
// STATION_MESH_, with defaults matching spec.md's stated defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STATION_MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("debug", false)
	v.SetDefault("max_concurrent_workflows", 50)
	v.SetDefault("max_concurrent_steps", 10)
	v.SetDefault("history_retention", 24*time.Hour)

	v.SetDefault("registry_file_path", "mcp-registry.json")
	v.SetDefault("reload_debounce", time.Second)
	v.SetDefault("health_check_default", 30*time.Second)
	v.SetDefault("env_discovery", true)
	v.SetDefault("dns_discovery.enabled", false)
	v.SetDefault("multicast_discovery.enabled", false)
	v.SetDefault("cluster_discovery.enabled", false)
	v.SetDefault("cluster_discovery.label", "type=mcp")

	v.SetDefault("default_call_timeout", 30*time.Second)
	v.SetDefault("default_max_retries", 3)
	v.SetDefault("pool.min_size", 0)
	v.SetDefault("pool.max_size", 10)
	v.SetDefault("pool.acquire_timeout", 5*time.Second)
	v.SetDefault("pool.idle_timeout", 5*time.Minute)
	v.SetDefault("backoff.base_delay", time.Second)
	v.SetDefault("backoff.max_delay", 30*time.Second)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("backoff.jitter_factor", 0.1)

	cfg := &Config{
		Debug:                  v.GetBool("debug"),
		MaxConcurrentWorkflows: v.GetInt("max_concurrent_workflows"),
		MaxConcurrentSteps:     v.GetInt("max_concurrent_steps"),
		HistoryRetention:       v.GetDuration("history_retention"),
		RegistryFilePath:       v.GetString("registry_file_path"),
		ReloadDebounce:         v.GetDuration("reload_debounce"),
		HealthCheckDefault:     v.GetDuration("health_check_default"),
		EnvDiscovery:           v.GetBool("env_discovery"),
		DNSDiscovery: DNSDiscoveryConfig{
			Enabled: v.GetBool("dns_discovery.enabled"),
			Domain:  v.GetString("dns_discovery.domain"),
		},
		MulticastDiscovery: MulticastDiscoveryConfig{
			Enabled: v.GetBool("multicast_discovery.enabled"),
			Group:   v.GetString("multicast_discovery.group"),
			Iface:   v.GetString("multicast_discovery.iface"),
		},
		ClusterDiscovery: ClusterDiscoveryConfig{
			Enabled:   v.GetBool("cluster_discovery.enabled"),
			Namespace: v.GetString("cluster_discovery.namespace"),
			Label:     v.GetString("cluster_discovery.label"),
		},
		DefaultCallTimeout: v.GetDuration("default_call_timeout"),
		DefaultMaxRetries:  v.GetInt("default_max_retries"),
		Pool: PoolConfig{
			MinSize:        v.GetInt("pool.min_size"),
			MaxSize:        v.GetInt("pool.max_size"),
			AcquireTimeout: v.GetDuration("pool.acquire_timeout"),
			IdleTimeout:    v.GetDuration("pool.idle_timeout"),
		},
		Backoff: BackoffConfig{
			BaseDelay:    v.GetDuration("backoff.base_delay"),
			MaxDelay:     v.GetDuration("backoff.max_delay"),
			Multiplier:   v.GetFloat64("backoff.multiplier"),
			JitterFactor: v.GetFloat64("backoff.jitter_factor"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrentWorkflows <= 0 {
		return fmt.Errorf("max_concurrent_workflows must be positive")
	}
	if c.MaxConcurrentSteps <= 0 {
		return fmt.Errorf("max_concurrent_steps must be positive")
	}
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool.max_size must be positive")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool.min_size cannot exceed pool.max_size")
	}
	return nil
}

// Package config loads Titan runtime configuration.
//
// Layering (later wins): built-in defaults -> optional YAML file ->
// TITAN_-prefixed environment overrides. Every knob the core recognizes is a
// field here; components receive the values they need at construction and
// never read the environment themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized keys.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`

	StoreURL    string `yaml:"store_url"`
	CacheURL    string `yaml:"cache_url"`
	EventLogURL string `yaml:"event_log_url"`

	EventLogPartitions int `yaml:"event_log_partitions"`

	CacheEntityTTLSeconds int `yaml:"cache_entity_ttl_s"`
	CacheListTTLSeconds   int `yaml:"cache_list_ttl_s"`

	MaxPageLimit int   `yaml:"max_page_limit"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	LeaseTTLSeconds   int `yaml:"lease_ttl_s"`
	LeaseRenewSeconds int `yaml:"lease_renew_s"`

	EventMaxRetries      int `yaml:"event_max_retries"`
	EventClaimTimeoutMS  int `yaml:"event_claim_timeout_ms"`
	EventBatchSize       int `yaml:"event_batch_size"`
	InlinePayloadBytes   int `yaml:"inline_payload_threshold_bytes"`
	RecursionDepthLimit  int `yaml:"recursion_depth_limit"`
	BroadcastQueueEvents int `yaml:"broadcast_queue_events"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",

		StoreURL:    "postgres://localhost:5432/titan?sslmode=disable",
		CacheURL:    "redis://localhost:6379/0",
		EventLogURL: "redis://localhost:6379/0",

		EventLogPartitions: 8,

		CacheEntityTTLSeconds: 600,
		CacheListTTLSeconds:   60,

		MaxPageLimit: 1000,
		MaxBodyBytes: 8 * 1024 * 1024,

		LeaseTTLSeconds:   30,
		LeaseRenewSeconds: 10,

		EventMaxRetries:      5,
		EventClaimTimeoutMS:  30000,
		EventBatchSize:       64,
		InlinePayloadBytes:   64 * 1024,
		RecursionDepthLimit:  64,
		BroadcastQueueEvents: 1024,
	}
}

// Load reads path (optional, "" skips the file layer), applies environment
// overrides, normalizes bounds, and returns the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

const envPrefix = "TITAN_"

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	num64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("INSTANCE_ID", &cfg.InstanceID)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("STORE_URL", &cfg.StoreURL)
	str("CACHE_URL", &cfg.CacheURL)
	str("EVENT_LOG_URL", &cfg.EventLogURL)
	num("EVENT_LOG_PARTITIONS", &cfg.EventLogPartitions)
	num("CACHE_ENTITY_TTL_S", &cfg.CacheEntityTTLSeconds)
	num("CACHE_LIST_TTL_S", &cfg.CacheListTTLSeconds)
	num("MAX_PAGE_LIMIT", &cfg.MaxPageLimit)
	num64("MAX_BODY_BYTES", &cfg.MaxBodyBytes)
	num("LEASE_TTL_S", &cfg.LeaseTTLSeconds)
	num("LEASE_RENEW_S", &cfg.LeaseRenewSeconds)
	num("EVENT_MAX_RETRIES", &cfg.EventMaxRetries)
	num("EVENT_CLAIM_TIMEOUT_MS", &cfg.EventClaimTimeoutMS)
	num("EVENT_BATCH_SIZE", &cfg.EventBatchSize)
	num("INLINE_PAYLOAD_THRESHOLD_BYTES", &cfg.InlinePayloadBytes)
	num("RECURSION_DEPTH_LIMIT", &cfg.RecursionDepthLimit)
	num("BROADCAST_QUEUE_EVENTS", &cfg.BroadcastQueueEvents)
}

// normalize clamps everything to safe bounds; a misconfigured deployment
// degrades instead of failing.
func (c *Config) normalize() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "titan"
		}
		c.InstanceID = host + "-" + strconv.Itoa(os.Getpid())
	}
	if c.EventLogPartitions < 1 {
		c.EventLogPartitions = 1
	}
	if c.EventLogPartitions > 256 {
		c.EventLogPartitions = 256
	}
	if c.CacheEntityTTLSeconds <= 0 {
		c.CacheEntityTTLSeconds = 600
	}
	if c.CacheListTTLSeconds <= 0 {
		c.CacheListTTLSeconds = 60
	}
	if c.MaxPageLimit < 1 || c.MaxPageLimit > 10000 {
		c.MaxPageLimit = 1000
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 8 * 1024 * 1024
	}
	if c.LeaseTTLSeconds <= 0 {
		c.LeaseTTLSeconds = 30
	}
	if c.LeaseRenewSeconds <= 0 || c.LeaseRenewSeconds >= c.LeaseTTLSeconds {
		c.LeaseRenewSeconds = c.LeaseTTLSeconds / 3
		if c.LeaseRenewSeconds < 1 {
			c.LeaseRenewSeconds = 1
		}
	}
	if c.EventMaxRetries <= 0 {
		c.EventMaxRetries = 5
	}
	if c.EventClaimTimeoutMS <= 0 {
		c.EventClaimTimeoutMS = 30000
	}
	if c.EventBatchSize <= 0 || c.EventBatchSize > 1024 {
		c.EventBatchSize = 64
	}
	if c.InlinePayloadBytes <= 0 {
		c.InlinePayloadBytes = 64 * 1024
	}
	if c.RecursionDepthLimit <= 0 {
		c.RecursionDepthLimit = 64
	}
	if c.BroadcastQueueEvents <= 0 {
		c.BroadcastQueueEvents = 1024
	}
}

// CacheEntityTTL returns the entity TTL as a duration.
func (c Config) CacheEntityTTL() time.Duration {
	return time.Duration(c.CacheEntityTTLSeconds) * time.Second
}

// CacheListTTL returns the list-page TTL as a duration.
func (c Config) CacheListTTL() time.Duration {
	return time.Duration(c.CacheListTTLSeconds) * time.Second
}

// LeaseTTL returns the leader lease TTL as a duration.
func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// LeaseRenew returns the leader renew interval as a duration.
func (c Config) LeaseRenew() time.Duration {
	return time.Duration(c.LeaseRenewSeconds) * time.Second
}

// EventClaimTimeout returns the idle time before pending events are claimed.
func (c Config) EventClaimTimeout() time.Duration {
	return time.Duration(c.EventClaimTimeoutMS) * time.Millisecond
}

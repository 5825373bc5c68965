// Package config loads the runtime configuration of a service from YAML:
// the resilience policy, the admission gates, the response cache and the
// logging setup. The programmatic surface remains the service options; this
// package only turns a document into those values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Rate gate modes.
const (
	RateModeSliding     = "sliding"
	RateModeTokenBucket = "token_bucket"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Defaults applied by Normalize.
const (
	DefaultRateWindowMs     = 60000
	DefaultBackoff          = 1.0
	DefaultCacheTTLMs       = 300000
	DefaultCacheMaxEntries  = 1024
	DefaultLogFormat        = "json"
	DefaultRedisAddr        = "localhost:6379"
	defaultRateMode         = RateModeSliding
	defaultCacheBackendName = CacheBackendMemory
)

type (
	// Config is the root configuration document.
	Config struct {
		Resilience Resilience `yaml:"resilience"`
		Cache      Cache      `yaml:"cache"`
		Logging    Logging    `yaml:"logging"`
	}

	// Resilience configures the executor and the admission gates.
	Resilience struct {
		MaxRetries            int     `yaml:"max_retries"`
		RetryDelayMs          int     `yaml:"retry_delay_ms"`
		BackoffMultiplier     float64 `yaml:"backoff_multiplier"`
		TimeoutMs             int     `yaml:"timeout_ms"`
		MaxConcurrentRequests int     `yaml:"max_concurrent_requests"`
		MaxRequestsPerMinute  int     `yaml:"max_requests_per_minute"`
		RateWindowMs          int     `yaml:"rate_window_ms"`
		RateMode              string  `yaml:"rate_mode"`
	}

	// Cache configures the response cache middleware.
	Cache struct {
		Enabled     bool   `yaml:"enabled"`
		TTLMs       int    `yaml:"ttl_ms"`
		MaxEntries  int    `yaml:"max_entries"`
		Backend     string `yaml:"backend"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPrefix string `yaml:"redis_prefix"`
	}

	// Logging configures the clue logger context.
	Logging struct {
		Format string `yaml:"format"`
		Debug  bool   `yaml:"debug"`
	}
)

// Load reads, parses, normalizes and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	Normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a single YAML document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(yaml.Node)); !errors.Is(err, io.EOF) {
		if err == nil {
			return Config{}, fmt.Errorf("parse config: multiple YAML documents are not supported")
		}
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Normalize fills in defaults for unset fields.
func Normalize(cfg *Config) {
	r := &cfg.Resilience
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = DefaultBackoff
	}
	if r.RateWindowMs == 0 {
		r.RateWindowMs = DefaultRateWindowMs
	}
	if r.RateMode == "" {
		r.RateMode = defaultRateMode
	}

	c := &cfg.Cache
	if c.TTLMs == 0 {
		c.TTLMs = DefaultCacheTTLMs
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Backend == "" {
		c.Backend = defaultCacheBackendName
	}
	if c.Backend == CacheBackendRedis && c.RedisAddr == "" {
		c.RedisAddr = DefaultRedisAddr
	}

	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

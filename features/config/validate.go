package config

import (
	"fmt"
	"strings"
)

type (
	// Issue captures a validation problem with a config field.
	Issue struct {
		Field   string
		Message string
	}

	// ValidationError aggregates config validation issues.
	ValidationError struct {
		Issues []Issue
	}

	issueCollector struct {
		issues []Issue
	}
)

// Error renders validation errors one issue per line.
func (err *ValidationError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return "config validation failed"
	}
	lines := make([]string, 0, len(err.Issues))
	for _, issue := range err.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return strings.Join(lines, "\n")
}

func (c *issueCollector) add(field, message string) {
	c.issues = append(c.issues, Issue{Field: field, Message: message})
}

func (c *issueCollector) result() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: c.issues}
}

// Validate reports every problem of a normalized config.
func (cfg Config) Validate() error {
	var c issueCollector
	validateResilience(cfg.Resilience, c.add)
	validateCache(cfg.Cache, c.add)
	validateLogging(cfg.Logging, c.add)
	return c.result()
}

func validateResilience(r Resilience, add func(field, message string)) {
	if r.MaxRetries < 0 {
		add("resilience.max_retries", "must be >= 0")
	}
	if r.RetryDelayMs < 0 {
		add("resilience.retry_delay_ms", "must be >= 0")
	}
	if r.BackoffMultiplier < 1 {
		add("resilience.backoff_multiplier", "must be >= 1")
	}
	if r.TimeoutMs < 0 {
		add("resilience.timeout_ms", "must be >= 0")
	}
	if r.MaxConcurrentRequests < 0 {
		add("resilience.max_concurrent_requests", "must be >= 0")
	}
	if r.MaxRequestsPerMinute < 0 {
		add("resilience.max_requests_per_minute", "must be >= 0")
	}
	if r.RateWindowMs < 1 {
		add("resilience.rate_window_ms", "must be >= 1")
	}
	switch r.RateMode {
	case RateModeSliding, RateModeTokenBucket:
	default:
		add("resilience.rate_mode", "must be one of sliding, token_bucket")
	}
}

func validateCache(c Cache, add func(field, message string)) {
	if !c.Enabled {
		return
	}
	if c.TTLMs < 1 {
		add("cache.ttl_ms", "must be >= 1")
	}
	switch c.Backend {
	case CacheBackendMemory:
		if c.MaxEntries < 1 {
			add("cache.max_entries", "must be >= 1")
		}
	case CacheBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			add("cache.redis_addr", "is required when backend is redis")
		}
	default:
		add("cache.backend", "must be one of memory, redis")
	}
}

func validateLogging(l Logging, add func(field, message string)) {
	switch l.Format {
	case "json", "text", "terminal":
	default:
		add("logging.format", "must be one of json, text, terminal")
	}
}

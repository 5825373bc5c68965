package config

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/ahammer/shimmer/features/model/middleware"
	"github.com/ahammer/shimmer/runtime/gate"
	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/resilience"
	"github.com/ahammer/shimmer/runtime/service"
	"github.com/ahammer/shimmer/runtime/telemetry"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Policy returns the resilience policy. Validator and Fallback are left for
// the caller to set.
func (cfg Config) Policy() resilience.Policy {
	r := cfg.Resilience
	return resilience.Policy{
		MaxRetries:            r.MaxRetries,
		RetryDelay:            ms(r.RetryDelayMs),
		BackoffMultiplier:     r.BackoffMultiplier,
		Timeout:               ms(r.TimeoutMs),
		MaxConcurrentRequests: r.MaxConcurrentRequests,
		MaxRequestsPerMinute:  r.MaxRequestsPerMinute,
		RateWindow:            ms(r.RateWindowMs),
	}
}

// RateGate returns the rate gate for the configured mode.
func (cfg Config) RateGate() gate.Gate {
	r := cfg.Resilience
	if r.RateMode == RateModeTokenBucket {
		return gate.NewTokenBucket(r.MaxRequestsPerMinute, ms(r.RateWindowMs))
	}
	return gate.NewSlidingWindow(r.MaxRequestsPerMinute, ms(r.RateWindowMs))
}

// ConcurrencyGate returns the concurrency gate.
func (cfg Config) ConcurrencyGate() gate.Gate {
	return gate.NewConcurrency(cfg.Resilience.MaxConcurrentRequests)
}

// CacheStore returns the configured cache store, or nil when caching is
// disabled. Redis stores connect lazily on first use.
func (cfg Config) CacheStore() middleware.Store {
	c := cfg.Cache
	if !c.Enabled {
		return nil
	}
	if c.Backend == CacheBackendRedis {
		return middleware.NewRedisStore(redis.NewClient(&redis.Options{Addr: c.RedisAddr}), c.RedisPrefix)
	}
	return middleware.NewMemoryStore(c.MaxEntries)
}

// LogContext returns ctx configured with the clue log format and debug flag.
func (cfg Config) LogContext(ctx context.Context) context.Context {
	format := log.FormatJSON
	switch cfg.Logging.Format {
	case "text":
		format = log.FormatText
	case "terminal":
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if cfg.Logging.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

// ServiceOptions returns the service options described by cfg: the policy,
// both gates and, when enabled, the cache middleware.
func (cfg Config) ServiceOptions(logger telemetry.Logger) []service.Option {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	opts := []service.Option{
		service.WithPolicy(cfg.Policy()),
		service.WithRateGate(cfg.RateGate()),
		service.WithConcurrencyGate(cfg.ConcurrencyGate()),
	}
	if store := cfg.CacheStore(); store != nil {
		ttl := ms(cfg.Cache.TTLMs)
		opts = append(opts, service.WithMiddleware(func(next model.Adapter) model.Adapter {
			return middleware.NewCache(next, store, ttl, middleware.WithCacheLogger(logger))
		}))
	}
	return opts
}

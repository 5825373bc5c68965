// Package middleware provides model.Adapter decorators: a result cache keyed
// by the cache-equivalence of the prompt context and a router that selects a
// backend adapter per request.
package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/resilience"
	"github.com/ahammer/shimmer/runtime/telemetry"
	"github.com/ahammer/shimmer/runtime/tools"
)

// DefaultTTL is the cache entry lifetime used when none is configured.
const DefaultTTL = 5 * time.Minute

type (
	// Cache serves repeated requests from a Store. Requests carrying tools and
	// streaming requests always reach the wrapped adapter, and so do retry
	// attempts of the resilience executor: a retry overwrites the entry left
	// by the attempt it replaces.
	Cache struct {
		next   model.Adapter
		store  Store
		ttl    time.Duration
		accept func(any) bool
		logger telemetry.Logger
	}

	// CacheOption configures a Cache.
	CacheOption func(*Cache)
)

// WithCacheLogger logs store failures. Store failures never fail a request.
func WithCacheLogger(l telemetry.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithCacheValidator stores only results accepted by accept. Pass the
// policy validator so rejected results never outlive the attempt that
// produced them.
func WithCacheValidator(accept func(result any) bool) CacheOption {
	return func(c *Cache) { c.accept = accept }
}

// NewCache wraps next with a cache backed by store. A non-positive ttl
// defaults to DefaultTTL.
func NewCache(next model.Adapter, store Store, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{next: next, store: store, ttl: ttl, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// HandleRequest implements model.Adapter. Hits and misses both return the
// value produced by shape.Decode so callers see the same type either way.
func (c *Cache) HandleRequest(ctx context.Context, pc *model.PromptContext, shape *model.Shape) (any, error) {
	if c.next == nil {
		return nil, model.ErrNoAdapter
	}
	if len(pc.Tools()) > 0 {
		return c.next.HandleRequest(ctx, pc, shape)
	}
	key := pc.CacheKey()
	if resilience.Attempt(ctx) <= 1 {
		data, ok, err := c.store.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn(ctx, "cache lookup failed", "method", pc.MethodName(), "err", err)
		case ok:
			if v, err := shape.Decode(data); err == nil {
				c.logger.Debug(ctx, "cache hit", "method", pc.MethodName())
				return v, nil
			}
		}
	}
	res, err := c.next.HandleRequest(ctx, pc, shape)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return res, nil
	}
	v, err := shape.Decode(data)
	if err != nil {
		return res, nil
	}
	if c.accept != nil && !c.accept(v) {
		return v, nil
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn(ctx, "cache store failed", "method", pc.MethodName(), "err", err)
	}
	return v, nil
}

// HandleRequestWithTools bypasses the cache.
func (c *Cache) HandleRequestWithTools(ctx context.Context, pc *model.PromptContext, shape *model.Shape, providers []tools.Provider) (any, error) {
	return model.Handle(ctx, c.next, pc, shape, providers)
}

// HandleRequestStreaming bypasses the cache.
func (c *Cache) HandleRequestStreaming(ctx context.Context, pc *model.PromptContext) (model.Streamer, error) {
	return model.Stream(ctx, c.next, pc, nil)
}

// HandleRequestStreamingWithTools bypasses the cache.
func (c *Cache) HandleRequestStreamingWithTools(ctx context.Context, pc *model.PromptContext, providers []tools.Provider) (model.Streamer, error) {
	return model.Stream(ctx, c.next, pc, providers)
}

package middleware

import (
	"context"
	"fmt"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

type (
	// Selector picks the adapter serving a request.
	Selector func(pc *model.PromptContext) model.Adapter

	// Router dispatches each request to the adapter chosen by its selector.
	// The router holds no state; the selected adapter's tool and streaming
	// capabilities are preserved.
	Router struct {
		pick Selector
	}
)

// NewRouter returns a Router using pick.
func NewRouter(pick Selector) *Router {
	return &Router{pick: pick}
}

// ByMethod selects the adapter registered for the declared method name and
// falls back to def.
func ByMethod(routes map[string]model.Adapter, def model.Adapter) Selector {
	return func(pc *model.PromptContext) model.Adapter {
		if a, ok := routes[pc.MethodName()]; ok {
			return a
		}
		return def
	}
}

// ByProperty selects the adapter registered for the value of the context
// property key and falls back to def.
func ByProperty(key string, routes map[string]model.Adapter, def model.Adapter) Selector {
	return func(pc *model.PromptContext) model.Adapter {
		v, ok := pc.Property(key)
		if !ok {
			return def
		}
		if a, ok := routes[fmt.Sprint(v)]; ok {
			return a
		}
		return def
	}
}

// HandleRequest implements model.Adapter.
func (r *Router) HandleRequest(ctx context.Context, pc *model.PromptContext, shape *model.Shape) (any, error) {
	return model.Handle(ctx, r.pick(pc), pc, shape, nil)
}

// HandleRequestWithTools implements model.ToolAdapter.
func (r *Router) HandleRequestWithTools(ctx context.Context, pc *model.PromptContext, shape *model.Shape, providers []tools.Provider) (any, error) {
	return model.Handle(ctx, r.pick(pc), pc, shape, providers)
}

// HandleRequestStreaming implements model.StreamingAdapter.
func (r *Router) HandleRequestStreaming(ctx context.Context, pc *model.PromptContext) (model.Streamer, error) {
	return model.Stream(ctx, r.pick(pc), pc, nil)
}

// HandleRequestStreamingWithTools implements model.ToolStreamingAdapter.
func (r *Router) HandleRequestStreamingWithTools(ctx context.Context, pc *model.PromptContext, providers []tools.Provider) (model.Streamer, error) {
	return model.Stream(ctx, r.pick(pc), pc, providers)
}

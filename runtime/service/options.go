package service

import (
	"github.com/ahammer/shimmer/runtime/gate"
	"github.com/ahammer/shimmer/runtime/interceptor"
	"github.com/ahammer/shimmer/runtime/memory"
	"github.com/ahammer/shimmer/runtime/method"
	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/resilience"
	"github.com/ahammer/shimmer/runtime/telemetry"
	"github.com/ahammer/shimmer/runtime/tools"
)

type (
	// Option configures a Service.
	Option func(*options)

	// Middleware decorates the backend adapter, for example with a cache or
	// a router.
	Middleware func(model.Adapter) model.Adapter

	options struct {
		adapter      model.Adapter
		middlewares  []Middleware
		policy       resilience.Policy
		interceptors interceptor.Chain
		listeners    []resilience.Listener
		providers    []tools.Provider
		rate         gate.Gate
		concurrency  gate.Gate
		assembler    *method.Assembler
		memory       *memory.Store
		logger       telemetry.Logger
		metrics      telemetry.Metrics
		tracer       telemetry.Tracer
	}
)

// WithAdapter sets the backend adapter. Required.
func WithAdapter(a model.Adapter) Option {
	return func(o *options) { o.adapter = a }
}

// WithMiddleware wraps the adapter. Middlewares apply in order, the first one
// being the outermost.
func WithMiddleware(m ...Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, m...) }
}

// WithPolicy sets the resilience policy. The rate and concurrency gates are
// derived from it unless set explicitly.
func WithPolicy(p resilience.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithInterceptors appends interceptors to the chain.
func WithInterceptors(is ...interceptor.Interceptor) Option {
	return func(o *options) { o.interceptors = append(o.interceptors, is...) }
}

// WithListeners registers request listeners, notified in order.
func WithListeners(ls ...resilience.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, ls...) }
}

// WithToolProviders attaches tool providers to every request.
func WithToolProviders(ps ...tools.Provider) Option {
	return func(o *options) { o.providers = append(o.providers, ps...) }
}

// WithRateGate replaces the rate gate derived from the policy.
func WithRateGate(g gate.Gate) Option {
	return func(o *options) { o.rate = g }
}

// WithConcurrencyGate replaces the concurrency gate derived from the policy.
func WithConcurrencyGate(g gate.Gate) Option {
	return func(o *options) { o.concurrency = g }
}

// WithAssembler replaces the request assembler.
func WithAssembler(a *method.Assembler) Option {
	return func(o *options) { o.assembler = a }
}

// WithMemory shares a memory store, for example with an agent decider.
func WithMemory(m *memory.Store) Option {
	return func(o *options) { o.memory = m }
}

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

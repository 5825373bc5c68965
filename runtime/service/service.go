// Package service turns a table of declared methods into a callable API
// instance. Each invocation is assembled into a prompt context, transformed
// by the interceptor chain, admitted by the rate and concurrency gates and
// executed against the backend adapter under the resilience policy.
// Successful results are memorized before listeners are notified.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahammer/shimmer/runtime/gate"
	"github.com/ahammer/shimmer/runtime/interceptor"
	"github.com/ahammer/shimmer/runtime/memory"
	"github.com/ahammer/shimmer/runtime/method"
	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/resilience"
	"github.com/ahammer/shimmer/runtime/telemetry"
	"github.com/ahammer/shimmer/runtime/tools"
)

// PropertyRequestID is the prompt context property holding the request id.
const PropertyRequestID = "shimmer.request_id"

type (
	// Service is an API instance bound to a method table. It is safe for
	// concurrent use.
	Service struct {
		table     *method.Table
		adapter   model.Adapter
		executor  *resilience.Executor
		chain     interceptor.Chain
		providers []tools.Provider
		rate      gate.Gate
		conc      gate.Gate
		assembler *method.Assembler
		memory    *memory.Store
		logger    telemetry.Logger
		tracer    telemetry.Tracer
	}

	// Future is the pending result of an asynchronous invocation.
	Future struct {
		done chan struct{}
		res  any
		err  error
	}

	// memorizer stores successful results under the method's memory label.
	memorizer struct {
		table  *method.Table
		memory *memory.Store
	}
)

// New returns a Service for table.
func New(table *method.Table, opts ...Option) (*Service, error) {
	if table == nil {
		return nil, &model.ConfigError{Reason: "method table is required"}
	}
	o := options{policy: resilience.DefaultPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.adapter == nil {
		return nil, &model.ConfigError{Reason: model.ErrNoAdapter.Error()}
	}
	if o.logger == nil {
		o.logger = telemetry.NewNoopLogger()
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewNoopMetrics()
	}
	if o.tracer == nil {
		o.tracer = telemetry.NewNoopTracer()
	}
	if o.memory == nil {
		o.memory = memory.New()
	}
	if o.assembler == nil {
		o.assembler = method.NewAssembler()
	}
	if o.rate == nil {
		o.rate = gate.NewSlidingWindow(o.policy.MaxRequestsPerMinute, o.policy.RateWindow)
	}
	if o.concurrency == nil {
		o.concurrency = gate.NewConcurrency(o.policy.MaxConcurrentRequests)
	}
	adapter := o.adapter
	for i := len(o.middlewares) - 1; i >= 0; i-- {
		adapter = o.middlewares[i](adapter)
	}

	listeners := make([]resilience.Listener, 0, len(o.listeners)+2)
	listeners = append(listeners, &memorizer{table: table, memory: o.memory}, telemetry.NewListener(o.logger, o.metrics))
	listeners = append(listeners, o.listeners...)
	exec, err := resilience.NewExecutor(o.policy, resilience.WithListeners(listeners...), resilience.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return &Service{
		table:     table,
		adapter:   adapter,
		executor:  exec,
		chain:     o.interceptors,
		providers: o.providers,
		rate:      o.rate,
		conc:      o.concurrency,
		assembler: o.assembler,
		memory:    o.memory,
		logger:    o.logger,
		tracer:    o.tracer,
	}, nil
}

// Table returns the declared methods.
func (s *Service) Table() *method.Table { return s.table }

// Memory returns the instance memory.
func (s *Service) Memory() *memory.Store { return s.memory }

// Invoke calls the declared method name with positional args and blocks
// until the result is available, the policy gives up or ctx is done.
func (s *Service) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	spec, d, err := s.bind(name, args)
	if err != nil {
		return nil, err
	}
	return s.invoke(ctx, spec, d)
}

// InvokeAsync starts the invocation and returns its Future. Cancelling ctx
// cancels the invocation.
func (s *Service) InvokeAsync(ctx context.Context, name string, args ...any) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res, f.err = s.Invoke(ctx, name, args...)
	}()
	return f
}

// Await blocks until the invocation completes or ctx is done. Abandoning an
// await does not cancel the invocation.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the invocation completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Call invokes name and converts the result to T.
func Call[T any](ctx context.Context, s *Service, name string, args ...any) (T, error) {
	var zero T
	res, err := s.Invoke(ctx, name, args...)
	if err != nil {
		return zero, err
	}
	switch v := res.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
		return zero, nil
	default:
		return zero, fmt.Errorf("method %q returned %T, not %T", name, res, zero)
	}
}

// Stream calls name and returns its response as a fragment stream. Streaming
// bypasses the gates, the resilience policy and result memorization; closing
// the stream or cancelling ctx stops the backend.
func (s *Service) Stream(ctx context.Context, name string, args ...any) (model.Streamer, error) {
	spec, d, err := s.bind(name, args)
	if err != nil {
		return nil, err
	}
	pc, err := s.prepare(ctx, spec, d, uuid.NewString())
	if err != nil {
		return nil, err
	}
	st, err := model.Stream(ctx, s.adapter, pc, s.providers)
	if err != nil {
		return nil, err
	}
	return &ctxStreamer{ctx: ctx, next: st}, nil
}

func (s *Service) bind(name string, args []any) (method.Spec, method.Descriptor, error) {
	spec, ok := s.table.Lookup(name)
	if !ok {
		return method.Spec{}, method.Descriptor{}, &model.ConfigError{Method: name, Reason: "method is not declared"}
	}
	d, err := method.Bind(spec, args...)
	if err != nil {
		return method.Spec{}, method.Descriptor{}, err
	}
	return spec, d, nil
}

func (s *Service) prepare(ctx context.Context, spec method.Spec, d method.Descriptor, requestID string) (*model.PromptContext, error) {
	var defs []tools.Definition
	if len(s.providers) > 0 {
		coord, err := tools.NewCoordinator(ctx, s.providers...)
		if err != nil {
			var dup *tools.DuplicateToolError
			if errors.As(err, &dup) {
				return nil, &model.ConfigError{Method: spec.Name, Reason: err.Error()}
			}
			return nil, err
		}
		defs = coord.Definitions()
	}
	pc, err := s.assembler.Build(d, s.memory.Snapshot(), defs, nil)
	if err != nil {
		return nil, err
	}
	pc = pc.WithProperty(PropertyRequestID, requestID)
	return s.chain.Apply(pc), nil
}

func (s *Service) invoke(ctx context.Context, spec method.Spec, d method.Descriptor) (res any, err error) {
	requestID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "shimmer.invoke", trace.WithAttributes(
		attribute.String("shimmer.method", spec.Name),
		attribute.String("shimmer.request_id", requestID),
	))
	start := time.Now()
	defer func() {
		if err != nil && ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.logger.Debug(ctx, "invocation finished", "method", spec.Name, "request_id", requestID, "duration", time.Since(start))
	}()

	pc, err := s.prepare(ctx, spec, d, requestID)
	if err != nil {
		return nil, err
	}

	release, err := s.rate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	release()
	release, err = s.conc.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.executor.Execute(ctx, pc, s.adapter, func(ctx context.Context, a model.Adapter) (any, error) {
		return model.Handle(ctx, a, pc, spec.Result, s.providers)
	})
}

func (m *memorizer) OnStart(context.Context, *model.PromptContext) {}

func (m *memorizer) OnComplete(_ context.Context, pc *model.PromptContext, result any, _ time.Duration) {
	spec, ok := m.table.Lookup(pc.MethodName())
	if !ok || spec.Memorize == "" {
		return
	}
	m.memory.Put(spec.Memorize, memoryValue(result))
}

func (m *memorizer) OnError(context.Context, *model.PromptContext, error, time.Duration) {}

// memoryValue renders a result for the memory snapshot: text results as is,
// everything else as JSON.
func memoryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t != nil {
			return *t
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ctxStreamer stops delivering fragments once ctx is done.
type ctxStreamer struct {
	ctx  context.Context
	next model.Streamer
}

func (s *ctxStreamer) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		_ = s.next.Close()
		return "", err
	}
	return s.next.Recv()
}

func (s *ctxStreamer) Close() error { return s.next.Close() }

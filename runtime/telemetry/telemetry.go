// Package telemetry defines the logging, metrics and tracing surfaces used by
// the shimmer runtime together with Clue/OpenTelemetry and no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation scope for meters and tracers.
const scope = "github.com/ahammer/shimmer/runtime"

// Metric names recorded by the request listener.
const (
	MetricRequestDuration  = "shimmer.request.duration"
	MetricRequestCompleted = "shimmer.request.completed"
	MetricRequestFailed    = "shimmer.request.failed"
	MetricRequestCancelled = "shimmer.request.cancelled"
)

type (
	// Logger emits structured log messages. keyvals alternate keys (strings)
	// and values.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers and gauges. tags alternate keys and
	// values.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is an in-flight trace span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

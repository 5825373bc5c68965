package telemetry

import (
	"context"
	"time"

	"github.com/ahammer/shimmer/runtime/model"
)

// Listener logs request lifecycle events and records request metrics tagged
// by method. It satisfies the resilience Listener and CancelListener
// interfaces.
type Listener struct {
	logger  Logger
	metrics Metrics
}

// NewListener returns a request listener. Nil arguments default to no-op
// implementations.
func NewListener(logger Logger, metrics Metrics) *Listener {
	if logger == nil {
		logger = NewNoopLogger()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Listener{logger: logger, metrics: metrics}
}

// OnStart logs the request start at debug level.
func (l *Listener) OnStart(ctx context.Context, pc *model.PromptContext) {
	l.logger.Debug(ctx, "request started", "method", pc.MethodName())
}

// OnComplete logs the request and records its duration.
func (l *Listener) OnComplete(ctx context.Context, pc *model.PromptContext, _ any, elapsed time.Duration) {
	m := pc.MethodName()
	l.logger.Info(ctx, "request completed", "method", m, "duration", elapsed)
	l.metrics.RecordTimer(MetricRequestDuration, elapsed, "method", m, "outcome", "completed")
	l.metrics.IncCounter(MetricRequestCompleted, 1, "method", m)
}

// OnError logs the terminal failure and records its duration.
func (l *Listener) OnError(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration) {
	m := pc.MethodName()
	l.logger.Error(ctx, "request failed", "method", m, "duration", elapsed, "err", err)
	l.metrics.RecordTimer(MetricRequestDuration, elapsed, "method", m, "outcome", "failed")
	l.metrics.IncCounter(MetricRequestFailed, 1, "method", m)
}

// OnCancel records a request abandoned by its caller.
func (l *Listener) OnCancel(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration) {
	m := pc.MethodName()
	l.logger.Debug(ctx, "request cancelled", "method", m, "duration", elapsed, "cause", err)
	l.metrics.IncCounter(MetricRequestCancelled, 1, "method", m)
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/telemetry"
)

type (
	// Call performs one attempt against adapter a. The executor passes the
	// attempt context, which carries the policy timeout.
	Call func(ctx context.Context, a model.Adapter) (any, error)

	// Executor runs calls under a Policy. An Executor is safe for concurrent
	// use; it holds no per-execution state.
	Executor struct {
		policy    Policy
		listeners Listeners
		logger    telemetry.Logger
		sleep     func(ctx context.Context, d time.Duration) error
	}

	// ExecutorOption configures an Executor.
	ExecutorOption func(*Executor)

	outcome struct {
		res any
		err error
	}

	attemptKey struct{}
)

// Attempt returns the number, counted from 1, of the executor attempt ctx
// belongs to. It returns 0 outside of an attempt. The fallback attempt
// continues the numbering of the primary attempts.
func Attempt(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// WithListeners registers listeners notified in order.
func WithListeners(ls ...Listener) ExecutorOption {
	return func(e *Executor) { e.listeners = append(e.listeners, ls...) }
}

// WithLogger sets the logger used for attempt diagnostics and listener
// panics.
func WithLogger(l telemetry.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// NewExecutor validates p and returns an executor.
func NewExecutor(p Policy, opts ...ExecutorOption) (*Executor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{policy: p, logger: telemetry.NewNoopLogger(), sleep: SleepWithContext}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Policy returns the executor policy.
func (e *Executor) Policy() Policy { return e.policy }

// Execute runs call against primary with up to MaxRetries+1 attempts, then
// once against the policy fallback. Caller cancellation is returned as
// ctx.Err() without retrying and without notifying OnError. Configuration
// errors are returned as is and never retried.
func (e *Executor) Execute(ctx context.Context, pc *model.PromptContext, primary model.Adapter, call Call) (any, error) {
	start := time.Now()
	e.notify(ctx, func(l Listener) { l.OnStart(ctx, pc) })

	attempts := e.policy.Attempts()
	var last error
	for n := 1; n <= attempts; n++ {
		res, err := e.attempt(ctx, n, primary, call)
		if err == nil {
			return e.succeed(ctx, pc, res, start)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.cancel(ctx, pc, ctxErr, start)
		}
		if isFatal(err) {
			return nil, e.fail(ctx, pc, err, start)
		}
		last = err
		e.logger.Debug(ctx, "attempt failed", "method", pc.MethodName(), "attempt", n, "of", attempts, "err", err)
		if n < attempts {
			if err := e.sleep(ctx, e.policy.Backoff(n)); err != nil {
				return nil, e.cancel(ctx, pc, err, start)
			}
		}
	}

	if fb := e.policy.Fallback; fb != nil {
		attempts++
		res, err := e.attempt(ctx, attempts, fb, call)
		if err == nil {
			return e.succeed(ctx, pc, res, start)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.cancel(ctx, pc, ctxErr, start)
		}
		e.logger.Debug(ctx, "fallback failed", "method", pc.MethodName(), "err", err)
		last = &FallbackError{Err: err, Primary: last}
	}

	return nil, e.fail(ctx, pc, &ExhaustedError{Attempts: attempts, Duration: time.Since(start), Last: last}, start)
}

// attempt runs one call in its own goroutine so that a timeout returns
// immediately even when the adapter ignores cancellation. A result delivered
// after the timeout is discarded.
func (e *Executor) attempt(ctx context.Context, n int, a model.Adapter, call Call) (any, error) {
	actx, cancel := context.WithValue(ctx, attemptKey{}, n), context.CancelFunc(func() {})
	if e.policy.Timeout > 0 {
		actx, cancel = context.WithTimeout(actx, e.policy.Timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		res, err := call(actx, a)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return nil, &TimeoutError{Attempt: n, Timeout: e.policy.Timeout}
			}
			return nil, o.err
		}
		if v := e.policy.Validator; v != nil && !v(o.res) {
			return nil, ErrResultRejected
		}
		return o.res, nil
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &TimeoutError{Attempt: n, Timeout: e.policy.Timeout}
	}
}

func (e *Executor) succeed(ctx context.Context, pc *model.PromptContext, res any, start time.Time) (any, error) {
	elapsed := time.Since(start)
	e.notify(ctx, func(l Listener) { l.OnComplete(ctx, pc, res, elapsed) })
	return res, nil
}

func (e *Executor) fail(ctx context.Context, pc *model.PromptContext, err error, start time.Time) error {
	elapsed := time.Since(start)
	e.notify(ctx, func(l Listener) { l.OnError(ctx, pc, err, elapsed) })
	return err
}

func (e *Executor) cancel(ctx context.Context, pc *model.PromptContext, err error, start time.Time) error {
	elapsed := time.Since(start)
	e.notify(ctx, func(l Listener) {
		if cl, ok := l.(CancelListener); ok {
			cl.OnCancel(ctx, pc, err, elapsed)
		}
	})
	return err
}

func (e *Executor) notify(ctx context.Context, fn func(Listener)) {
	e.listeners.each(fn, func(r any) {
		e.logger.Warn(ctx, "listener panicked", "panic", fmt.Sprint(r))
	})
}

// isFatal reports errors that no retry can fix.
func isFatal(err error) bool {
	var cfg *model.ConfigError
	return errors.As(err, &cfg) || errors.Is(err, model.ErrNoAdapter)
}

// SleepWithContext waits for d or until ctx is done, whichever comes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

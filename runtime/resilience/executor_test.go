package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/ahammer/shimmer/runtime/model"
)

var errBackend = errors.New("backend unavailable")

type recorder struct {
	mu        sync.Mutex
	starts    int
	completes int
	errs      []error
	cancels   int
}

func (r *recorder) listener() ListenerFuncs {
	return ListenerFuncs{
		Start: func(context.Context, *model.PromptContext) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.starts++
		},
		Complete: func(context.Context, *model.PromptContext, any, time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completes++
		},
		Error: func(_ context.Context, _ *model.PromptContext, err error, _ time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		Cancel: func(context.Context, *model.PromptContext, error, time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cancels++
		},
	}
}

func failing(counter *atomic.Int32, err error) model.Adapter {
	return model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		counter.Add(1)
		return nil, err
	})
}

func handle(ctx context.Context, a model.Adapter) (any, error) {
	return a.HandleRequest(ctx, pc(), model.TextShape())
}

func pc() *model.PromptContext {
	return model.NewPromptContext(model.Prompt{MethodName: "m"})
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryAttemptCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("an always-failing adapter is tried r+1 times, plus one fallback", prop.ForAll(
		func(r int, withFallback bool) bool {
			var primary, fallback atomic.Int32
			p := DefaultPolicy()
			p.MaxRetries = r
			if withFallback {
				p.Fallback = failing(&fallback, errBackend)
			}
			e, err := NewExecutor(p, WithSleep(noSleep))
			if err != nil {
				return false
			}
			_, err = e.Execute(context.Background(), pc(), failing(&primary, errBackend), handle)
			var exhausted *ExhaustedError
			if !errors.As(err, &exhausted) || !errors.Is(err, errBackend) {
				return false
			}
			wantFallback := int32(0)
			if withFallback {
				wantFallback = 1
			}
			return primary.Load() == int32(r+1) &&
				fallback.Load() == wantFallback &&
				exhausted.Attempts == r+1+int(wantFallback)
		},
		gen.IntRange(0, 6),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	p := DefaultPolicy()
	p.MaxRetries = 3
	p.RetryDelay = 100 * time.Millisecond
	p.BackoffMultiplier = 2
	e, err := NewExecutor(p, WithSleep(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))
	require.NoError(t, err)

	var calls atomic.Int32
	_, err = e.Execute(context.Background(), pc(), failing(&calls, errBackend), handle)
	require.Error(t, err)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestSuccessAfterRetries(t *testing.T) {
	rec := &recorder{}
	var calls atomic.Int32
	a := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errBackend
		}
		return "ok", nil
	})
	p := DefaultPolicy()
	p.MaxRetries = 5
	e, err := NewExecutor(p, WithSleep(noSleep), WithListeners(rec.listener()))
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pc(), a, handle)
	require.NoError(t, err)
	require.Equal(t, "ok", res)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, 1, rec.starts)
	require.Equal(t, 1, rec.completes)
	require.Empty(t, rec.errs)
}

func TestTimeoutIsTypedAndDiscardsLateResult(t *testing.T) {
	rec := &recorder{}
	release := make(chan struct{})
	slow := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		<-release
		return "stale", nil
	})
	defer close(release)

	p := DefaultPolicy()
	p.Timeout = 20 * time.Millisecond
	e, err := NewExecutor(p, WithListeners(rec.listener()))
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), pc(), slow, handle)
	require.Nil(t, res)
	require.True(t, IsTimeout(err))
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 1, te.Attempt)
	require.Len(t, rec.errs, 1)
	require.Same(t, err, rec.errs[0])
}

func TestTimeoutFromCooperativeAdapter(t *testing.T) {
	coop := model.AdapterFunc(func(ctx context.Context, _ *model.PromptContext, _ *model.Shape) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := DefaultPolicy()
	p.Timeout = 10 * time.Millisecond
	p.MaxRetries = 1
	e, err := NewExecutor(p, WithSleep(noSleep))
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), pc(), coop, handle)
	require.True(t, IsTimeout(err))
	require.NotErrorIs(t, err, context.Canceled)
}

func TestValidatorRejectionIsRetried(t *testing.T) {
	var calls atomic.Int32
	a := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		return int(calls.Add(1)), nil
	})
	p := DefaultPolicy()
	p.MaxRetries = 3
	p.Validator = func(v any) bool { return v.(int) >= 2 }
	e, err := NewExecutor(p, WithSleep(noSleep))
	require.NoError(t, err)
	res, err := e.Execute(context.Background(), pc(), a, handle)
	require.NoError(t, err)
	require.Equal(t, 2, res)

	p.Validator = func(any) bool { return false }
	e, err = NewExecutor(p, WithSleep(noSleep))
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), pc(), a, handle)
	require.ErrorIs(t, err, ErrResultRejected)
}

func TestFallbackFailureWrapsPrimary(t *testing.T) {
	var primary, fallback atomic.Int32
	fbErr := errors.New("fallback down")
	p := DefaultPolicy()
	p.MaxRetries = 1
	p.Fallback = failing(&fallback, fbErr)
	rec := &recorder{}
	e, err := NewExecutor(p, WithSleep(noSleep), WithListeners(rec.listener()))
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), pc(), failing(&primary, errBackend), handle)
	var fe *FallbackError
	require.ErrorAs(t, err, &fe)
	require.ErrorIs(t, err, fbErr)
	require.ErrorIs(t, err, errBackend)
	require.Len(t, rec.errs, 1)
}

func TestFallbackSuccess(t *testing.T) {
	var primary atomic.Int32
	p := DefaultPolicy()
	p.Fallback = model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		return "fallback", nil
	})
	e, err := NewExecutor(p)
	require.NoError(t, err)
	res, err := e.Execute(context.Background(), pc(), failing(&primary, errBackend), handle)
	require.NoError(t, err)
	require.Equal(t, "fallback", res)
}

func TestCancellationIsNotRetried(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	a := model.AdapterFunc(func(ctx context.Context, _ *model.PromptContext, _ *model.Shape) (any, error) {
		calls.Add(1)
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := DefaultPolicy()
	p.MaxRetries = 5
	p.Fallback = a
	e, err := NewExecutor(p, WithListeners(rec.listener()))
	require.NoError(t, err)

	_, err = e.Execute(ctx, pc(), a, handle)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), calls.Load())
	require.Empty(t, rec.errs)
	require.Equal(t, 1, rec.cancels)
}

func TestConfigErrorsAreFatal(t *testing.T) {
	var calls atomic.Int32
	p := DefaultPolicy()
	p.MaxRetries = 3
	e, err := NewExecutor(p, WithSleep(noSleep))
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), pc(), failing(&calls, &model.ConfigError{Reason: "bad"}), handle)
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)
	require.Equal(t, int32(1), calls.Load())
}

func TestListenerPanicsAreIsolated(t *testing.T) {
	rec := &recorder{}
	boom := ListenerFuncs{
		Start:    func(context.Context, *model.PromptContext) { panic("start") },
		Complete: func(context.Context, *model.PromptContext, any, time.Duration) { panic("complete") },
	}
	e, err := NewExecutor(DefaultPolicy(), WithListeners(boom, rec.listener()))
	require.NoError(t, err)
	ok := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) { return "v", nil })
	res, err := e.Execute(context.Background(), pc(), ok, handle)
	require.NoError(t, err)
	require.Equal(t, "v", res)
	require.Equal(t, 1, rec.starts)
	require.Equal(t, 1, rec.completes)
}

func TestAdapterPanicIsAnAttemptError(t *testing.T) {
	a := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) { panic("oops") })
	e, err := NewExecutor(DefaultPolicy())
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), pc(), a, handle)
	require.ErrorContains(t, err, "adapter panic: oops")
}

func TestAttemptNumbersReachTheCall(t *testing.T) {
	var seen []int
	a := model.AdapterFunc(func(ctx context.Context, _ *model.PromptContext, _ *model.Shape) (any, error) {
		seen = append(seen, Attempt(ctx))
		return nil, errBackend
	})
	p := DefaultPolicy()
	p.MaxRetries = 2
	p.Fallback = a
	e, err := NewExecutor(p, WithSleep(noSleep))
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), pc(), a, handle)
	require.Error(t, err)
	require.Equal(t, []int{1, 2, 3, 4}, seen)
	require.Zero(t, Attempt(context.Background()))
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	literal := Policy{MaxRetries: 1, RetryDelay: 10 * time.Millisecond}
	require.NoError(t, literal.Validate())
	require.Equal(t, 10*time.Millisecond, literal.Backoff(2))
	bad := Policy{MaxRetries: -1, BackoffMultiplier: 0.5, Timeout: -time.Second}
	err := bad.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "max retries")
	require.ErrorContains(t, err, "backoff multiplier")
	require.ErrorContains(t, err, "timeout")
	_, err = NewExecutor(bad)
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, SleepWithContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepWithContext(ctx, time.Hour), context.Canceled)
}

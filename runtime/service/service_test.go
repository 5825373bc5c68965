package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahammer/shimmer/features/model/middleware"
	"github.com/ahammer/shimmer/runtime/interceptor"
	"github.com/ahammer/shimmer/runtime/method"
	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/resilience"
	"github.com/ahammer/shimmer/runtime/tools"
)

type weather struct {
	City    string  `json:"city"`
	Celsius float64 `json:"celsius"`
}

func weatherTable(t *testing.T) *method.Table {
	t.Helper()
	table, err := method.NewTable(
		method.Spec{
			Name:     "getWeather",
			Summary:  "Returns the current weather for a city.",
			Params:   []method.Param{{Name: "city", Description: "City name"}},
			Result:   model.ShapeOf[weather](),
			Memorize: "lastWeather",
		},
		method.Spec{
			Name:    "haiku",
			Summary: "Writes a haiku.",
			Params:  []method.Param{{Name: "topic", Optional: true, Default: "rain"}},
			Result:  model.TextShape(),
		},
	)
	require.NoError(t, err)
	return table
}

// jsonAdapter answers every request with body decoded into the requested shape.
func jsonAdapter(body string, seen *[]*model.PromptContext) model.Adapter {
	var mu sync.Mutex
	return model.AdapterFunc(func(_ context.Context, pc *model.PromptContext, shape *model.Shape) (any, error) {
		if seen != nil {
			mu.Lock()
			*seen = append(*seen, pc)
			mu.Unlock()
		}
		return shape.Decode([]byte(body))
	})
}

func TestInvokeDecodesAndMemorizes(t *testing.T) {
	var seen []*model.PromptContext
	svc, err := New(weatherTable(t), WithAdapter(jsonAdapter(`{"city":"Oslo","celsius":-3}`, &seen)))
	require.NoError(t, err)

	res, err := svc.Invoke(context.Background(), "getWeather", "Oslo")
	require.NoError(t, err)
	assert.Equal(t, &weather{City: "Oslo", Celsius: -3}, res)

	got, ok := svc.Memory().Get("lastWeather")
	require.True(t, ok)
	assert.JSONEq(t, `{"city":"Oslo","celsius":-3}`, got)

	require.Len(t, seen, 1)
	assert.Equal(t, "getWeather", seen[0].MethodName())
	assert.Contains(t, seen[0].MethodInvocation(), "Oslo")
	id, ok := seen[0].Property(PropertyRequestID)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	_, err = svc.Invoke(context.Background(), "getWeather", "Bergen")
	require.NoError(t, err)
	require.Len(t, seen, 2)
	mem, ok := seen[1].MemoryValue("lastWeather")
	require.True(t, ok)
	assert.Contains(t, mem, "Oslo")
}

func TestInvokeRejectsUndeclaredMethodAndBadArguments(t *testing.T) {
	var calls int
	adapter := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		calls++
		return nil, nil
	})
	svc, err := New(weatherTable(t), WithAdapter(adapter))
	require.NoError(t, err)

	_, err = svc.Invoke(context.Background(), "unknown")
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "unknown", cfg.Method)

	_, err = svc.Invoke(context.Background(), "getWeather")
	var argErr *method.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "city", argErr.Param)
	assert.Zero(t, calls)
}

func TestNewRequiresAdapterAndValidPolicy(t *testing.T) {
	_, err := New(weatherTable(t))
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)

	_, err = New(nil, WithAdapter(jsonAdapter(`""`, nil)))
	require.ErrorAs(t, err, &cfg)

	p := resilience.DefaultPolicy()
	p.BackoffMultiplier = 0.5
	_, err = New(weatherTable(t), WithAdapter(jsonAdapter(`""`, nil)), WithPolicy(p))
	require.ErrorAs(t, err, &cfg)
}

func TestMemorizationPrecedesListeners(t *testing.T) {
	var (
		memorized bool
		svc       *Service
	)
	listener := resilience.ListenerFuncs{
		Complete: func(context.Context, *model.PromptContext, any, time.Duration) {
			_, memorized = svc.Memory().Get("lastWeather")
		},
	}
	var err error
	svc, err = New(weatherTable(t),
		WithAdapter(jsonAdapter(`{"city":"Oslo","celsius":1}`, nil)),
		WithListeners(listener),
	)
	require.NoError(t, err)
	_, err = svc.Invoke(context.Background(), "getWeather", "Oslo")
	require.NoError(t, err)
	assert.True(t, memorized)
}

func TestInvokeRetriesUnderPolicy(t *testing.T) {
	var attempts atomic.Int32
	adapter := model.AdapterFunc(func(_ context.Context, _ *model.PromptContext, shape *model.Shape) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return shape.Decode([]byte(`"drizzle"`))
	})
	p := resilience.DefaultPolicy()
	p.MaxRetries = 2
	p.RetryDelay = time.Millisecond
	svc, err := New(weatherTable(t), WithAdapter(adapter), WithPolicy(p))
	require.NoError(t, err)

	text, err := Call[string](context.Background(), svc, "haiku")
	require.NoError(t, err)
	assert.Equal(t, "drizzle", text)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestCachedRetriesReachBackend(t *testing.T) {
	var calls atomic.Int32
	adapter := model.AdapterFunc(func(_ context.Context, _ *model.PromptContext, shape *model.Shape) (any, error) {
		if calls.Add(1) == 1 {
			return shape.Decode([]byte(`"bad"`))
		}
		return shape.Decode([]byte(`"good"`))
	})
	p := resilience.DefaultPolicy()
	p.MaxRetries = 3
	p.Validator = func(v any) bool {
		text, err := model.Text(v)
		return err == nil && text == "good"
	}
	store := middleware.NewMemoryStore(8)
	svc, err := New(weatherTable(t), WithAdapter(adapter), WithPolicy(p),
		WithMiddleware(func(next model.Adapter) model.Adapter {
			return middleware.NewCache(next, store, time.Minute)
		}))
	require.NoError(t, err)

	text, err := Call[string](context.Background(), svc, "haiku")
	require.NoError(t, err)
	assert.Equal(t, "good", text)
	assert.EqualValues(t, 2, calls.Load())

	text, err = Call[string](context.Background(), svc, "haiku")
	require.NoError(t, err)
	assert.Equal(t, "good", text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInvokeExhaustedFailsOnce(t *testing.T) {
	var errs int
	adapter := model.AdapterFunc(func(context.Context, *model.PromptContext, *model.Shape) (any, error) {
		return nil, errors.New("down")
	})
	p := resilience.DefaultPolicy()
	p.MaxRetries = 1
	svc, err := New(weatherTable(t), WithAdapter(adapter), WithPolicy(p),
		WithListeners(resilience.ListenerFuncs{
			Error: func(context.Context, *model.PromptContext, error, time.Duration) { errs++ },
		}))
	require.NoError(t, err)

	_, err = svc.Invoke(context.Background(), "haiku")
	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, 1, errs)
	_, ok := svc.Memory().Get("lastWeather")
	assert.False(t, ok)
}

func TestCallConvertsResult(t *testing.T) {
	svc, err := New(weatherTable(t), WithAdapter(jsonAdapter(`{"city":"Oslo","celsius":2}`, nil)))
	require.NoError(t, err)

	w, err := Call[weather](context.Background(), svc, "getWeather", "Oslo")
	require.NoError(t, err)
	assert.Equal(t, "Oslo", w.City)

	_, err = Call[int](context.Background(), svc, "getWeather", "Oslo")
	require.Error(t, err)
}

func TestInvokeAsync(t *testing.T) {
	release := make(chan struct{})
	adapter := model.AdapterFunc(func(ctx context.Context, _ *model.PromptContext, shape *model.Shape) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return shape.Decode([]byte(`"later"`))
	})
	svc, err := New(weatherTable(t), WithAdapter(adapter))
	require.NoError(t, err)

	f := svc.InvokeAsync(context.Background(), "haiku", "snow")
	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Await(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	res, err := f.Await(context.Background())
	require.NoError(t, err)
	text, err := model.Text(res)
	require.NoError(t, err)
	assert.Equal(t, "later", text)
	select {
	case <-f.Done():
	default:
		t.Fatal("future not done")
	}
}

func TestInvokeCancellation(t *testing.T) {
	started := make(chan struct{})
	adapter := model.AdapterFunc(func(ctx context.Context, _ *model.PromptContext, _ *model.Shape) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	var cancelled, failed int
	svc, err := New(weatherTable(t), WithAdapter(adapter), WithListeners(resilience.ListenerFuncs{
		Error:  func(context.Context, *model.PromptContext, error, time.Duration) { failed++ },
		Cancel: func(context.Context, *model.PromptContext, error, time.Duration) { cancelled++ },
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := svc.InvokeAsync(ctx, "haiku")
	<-started
	cancel()
	_, err = f.Await(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, cancelled)
	assert.Zero(t, failed)
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	adapter := model.AdapterFunc(func(_ context.Context, _ *model.PromptContext, shape *model.Shape) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return shape.Decode([]byte(`"ok"`))
	})
	p := resilience.DefaultPolicy()
	p.MaxConcurrentRequests = 2
	svc, err := New(weatherTable(t), WithAdapter(adapter), WithPolicy(p))
	require.NoError(t, err)

	futures := make([]*Future, 8)
	for i := range futures {
		futures[i] = svc.InvokeAsync(context.Background(), "haiku")
	}
	for _, f := range futures {
		_, err := f.Await(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestInterceptorsAndMiddlewareOrder(t *testing.T) {
	var seen []*model.PromptContext
	var order []string
	mw := func(name string) Middleware {
		return func(next model.Adapter) model.Adapter {
			return model.AdapterFunc(func(ctx context.Context, pc *model.PromptContext, shape *model.Shape) (any, error) {
				order = append(order, name)
				return next.HandleRequest(ctx, pc, shape)
			})
		}
	}
	svc, err := New(weatherTable(t),
		WithAdapter(jsonAdapter(`"ok"`, &seen)),
		WithMiddleware(mw("outer"), mw("inner")),
		WithInterceptors(interceptor.InjectProperties(map[string]any{"tenant": "acme"})),
	)
	require.NoError(t, err)
	_, err = svc.Invoke(context.Background(), "haiku")
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
	tenant, ok := seen[0].Property("tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", tenant)
}

func TestToolProvidersReachAdapter(t *testing.T) {
	provider := tools.NewStaticProvider(tools.Tool{
		Definition: tools.Definition{Name: "lookup", InputSchema: json.RawMessage(`{"type":"object"}`)},
		Handler:    func(context.Context, json.RawMessage) (string, error) { return "", nil },
	})
	var seen []*model.PromptContext
	svc, err := New(weatherTable(t), WithAdapter(jsonAdapter(`"ok"`, &seen)), WithToolProviders(provider))
	require.NoError(t, err)
	_, err = svc.Invoke(context.Background(), "haiku")
	require.NoError(t, err)
	require.Len(t, seen[0].Tools(), 1)
	assert.Equal(t, "lookup", seen[0].Tools()[0].Name)

	dup, err := New(weatherTable(t), WithAdapter(jsonAdapter(`"ok"`, nil)), WithToolProviders(provider, provider))
	require.NoError(t, err)
	_, err = dup.Invoke(context.Background(), "haiku")
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)
}

func TestStreamFallsBackToSingleFragment(t *testing.T) {
	svc, err := New(weatherTable(t), WithAdapter(jsonAdapter(`"a whole haiku"`, nil)))
	require.NoError(t, err)
	s, err := svc.Stream(context.Background(), "haiku", "fog")
	require.NoError(t, err)
	text, err := model.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "a whole haiku", text)
}

func TestStreamStopsOnCancel(t *testing.T) {
	svc, err := New(weatherTable(t), WithAdapter(jsonAdapter(`"x"`, nil)))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := svc.Stream(ctx, "haiku")
	require.NoError(t, err)
	cancel()
	_, err = s.Recv()
	require.ErrorIs(t, err, context.Canceled)
}

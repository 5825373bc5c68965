// Package gate implements the admission gates that sit in front of the
// resilience executor: a request-rate gate bounding acquisitions per time
// window and a concurrency gate bounding in-flight requests. A gate with a
// zero bound admits everything.
package gate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultWindow is the rate gate window used when none is configured.
const DefaultWindow = time.Minute

type (
	// Gate admits callers. Acquire blocks until the caller is admitted or ctx
	// is done; on success the returned release function must be called once
	// the guarded work completes. Release functions are idempotent.
	Gate interface {
		Acquire(ctx context.Context) (func(), error)
	}

	unbounded struct{}

	// SlidingWindow admits at most limit acquisitions in any rolling window.
	// State is a log of admission timestamps guarded by a mutex; waiters sleep
	// until the oldest admission leaves the window and then retry.
	SlidingWindow struct {
		limit  int
		window time.Duration
		now    func() time.Time

		mu  sync.Mutex
		log []time.Time
	}

	// TokenBucket admits acquisitions at an average of limit per window with
	// bursts of up to limit.
	TokenBucket struct {
		limiter *rate.Limiter
	}

	// Concurrency bounds the number of callers holding the gate at once.
	Concurrency struct {
		sem *semaphore.Weighted
	}

	// Option configures a SlidingWindow.
	Option func(*SlidingWindow)
)

// Unbounded is the gate used when a bound is zero.
var Unbounded Gate = unbounded{}

func noop() {}

func (unbounded) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return noop, nil
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// NewSlidingWindow returns a rolling-window rate gate. A limit of zero or less
// returns Unbounded; a non-positive window defaults to DefaultWindow.
func NewSlidingWindow(limit int, window time.Duration, opts ...Option) Gate {
	if limit <= 0 {
		return Unbounded
	}
	if window <= 0 {
		window = DefaultWindow
	}
	s := &SlidingWindow{limit: limit, window: window, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Acquire records an admission, waiting for a free slot in the window.
// Rate admissions are not returned; the release function is a no-op.
func (s *SlidingWindow) Acquire(ctx context.Context) (func(), error) {
	for {
		wait, ok := s.tryAcquire()
		if ok {
			return noop, nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// tryAcquire admits the caller when the window has room, otherwise it returns
// how long until the oldest admission expires.
func (s *SlidingWindow) tryAcquire() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-s.window)
	drop := 0
	for drop < len(s.log) && !s.log[drop].After(cutoff) {
		drop++
	}
	s.log = s.log[drop:]
	if len(s.log) < s.limit {
		s.log = append(s.log, now)
		return 0, true
	}
	wait := s.log[0].Add(s.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow returns the number of admissions currently counted.
func (s *SlidingWindow) InWindow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.window)
	n := 0
	for _, t := range s.log {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// NewTokenBucket returns a token-bucket rate gate refilling limit tokens per
// window. A limit of zero or less returns Unbounded.
func NewTokenBucket(limit int, window time.Duration) Gate {
	if limit <= 0 {
		return Unbounded
	}
	if window <= 0 {
		window = DefaultWindow
	}
	every := window / time.Duration(limit)
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(every), limit)}
}

// Acquire waits for a token.
func (b *TokenBucket) Acquire(ctx context.Context) (func(), error) {
	if err := b.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return noop, nil
}

// NewConcurrency returns a gate allowing at most k concurrent holders. A k of
// zero or less returns Unbounded.
func NewConcurrency(k int) Gate {
	if k <= 0 {
		return Unbounded
	}
	return &Concurrency{sem: semaphore.NewWeighted(int64(k))}
}

// Acquire blocks until a slot is free.
func (c *Concurrency) Acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { c.sem.Release(1) }) }, nil
}

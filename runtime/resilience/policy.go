// Package resilience runs a single declared-method request against a backend
// adapter with retry, exponential backoff, per-attempt timeout, result
// validation and a one-shot fallback adapter. The same executor serves the
// blocking and future-returning invocation styles.
package resilience

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ahammer/shimmer/runtime/model"
)

// DefaultRateWindow is the rate gate window used when a policy leaves it unset.
const DefaultRateWindow = time.Minute

// Policy configures the executor and the admission gates placed in front of
// it. A Policy is a value: copies handed to an Executor are never modified.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the delay before the first retry.
	RetryDelay time.Duration
	// BackoffMultiplier scales the delay after each retry. Zero means 1;
	// any other value must be >= 1.
	BackoffMultiplier float64
	// Timeout bounds each attempt. Zero means no timeout.
	Timeout time.Duration
	// Validator rejects otherwise successful results by returning false.
	// Rejections count as a failed attempt.
	Validator func(result any) bool
	// Fallback serves one final attempt once the primary adapter exhausted
	// its retries.
	Fallback model.Adapter
	// MaxConcurrentRequests bounds in-flight attempts. Zero means unbounded.
	MaxConcurrentRequests int
	// MaxRequestsPerMinute bounds admissions per RateWindow. Zero means
	// unbounded.
	MaxRequestsPerMinute int
	// RateWindow is the rolling window of the rate gate.
	RateWindow time.Duration
}

// DefaultPolicy returns a policy with a single attempt, no timeout and
// unbounded gates.
func DefaultPolicy() Policy {
	return Policy{
		BackoffMultiplier: 1,
		RateWindow:        DefaultRateWindow,
	}
}

// Validate reports every constraint violation of p as a configuration error.
func (p Policy) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, &model.ConfigError{Reason: "resilience policy: " + fmt.Sprintf(format, args...)})
		}
	}
	check(p.MaxRetries >= 0, "max retries must be >= 0, got %d", p.MaxRetries)
	check(p.RetryDelay >= 0, "retry delay must be >= 0, got %v", p.RetryDelay)
	check(p.BackoffMultiplier == 0 || p.BackoffMultiplier >= 1, "backoff multiplier must be >= 1, got %v", p.BackoffMultiplier)
	check(p.Timeout >= 0, "timeout must be >= 0, got %v", p.Timeout)
	check(p.MaxConcurrentRequests >= 0, "max concurrent requests must be >= 0, got %d", p.MaxConcurrentRequests)
	check(p.MaxRequestsPerMinute >= 0, "max requests per minute must be >= 0, got %d", p.MaxRequestsPerMinute)
	check(p.RateWindow >= 0, "rate window must be >= 0, got %v", p.RateWindow)
	return errors.Join(errs...)
}

// Backoff returns the delay that follows the given failed attempt, numbered
// from 1: RetryDelay * BackoffMultiplier^(attempt-1).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.RetryDelay <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.RetryDelay) * math.Pow(mult, float64(attempt-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Attempts returns the number of primary attempts, MaxRetries+1.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

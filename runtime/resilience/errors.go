package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrResultRejected is the attempt error recorded when the policy validator
// rejects a result.
var ErrResultRejected = errors.New("resilience: result rejected by validator")

type (
	// TimeoutError reports an attempt that exceeded the policy timeout. The
	// in-flight call is cancelled and its eventual result discarded.
	TimeoutError struct {
		Attempt int
		Timeout time.Duration
	}

	// FallbackError reports a failed fallback attempt. Primary holds the last
	// error of the primary adapter.
	FallbackError struct {
		Err     error
		Primary error
	}

	// ExhaustedError is the terminal failure of an execution. Last is the
	// error of the final attempt (a FallbackError when a fallback ran).
	ExhaustedError struct {
		Attempts int
		Duration time.Duration
		Last     error
	}
)

// Error implements error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d timed out after %v", e.Attempt, e.Timeout)
}

// Error implements error.
func (e *FallbackError) Error() string {
	return fmt.Sprintf("fallback failed: %v (primary: %v)", e.Err, e.Primary)
}

// Unwrap exposes both the fallback and the primary error.
func (e *FallbackError) Unwrap() []error {
	return []error{e.Err, e.Primary}
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resilience exhausted after %d attempts over %v: %v", e.Attempts, e.Duration, e.Last)
}

// Unwrap returns the last error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsTimeout reports whether err carries an attempt timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

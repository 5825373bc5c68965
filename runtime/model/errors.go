package model

import (
	"errors"
	"fmt"
)

// ErrNoAdapter indicates a pipeline was asked to dispatch without an adapter
// bound to it.
var ErrNoAdapter = errors.New("model: no adapter configured")

// ConfigError reports missing or malformed wiring discovered while building a
// request. Configuration errors are fatal and never retried.
type ConfigError struct {
	// Method is the declared method being built, if known.
	Method string
	// Reason describes the problem.
	Reason string
}

// Error implements error.
func (e *ConfigError) Error() string {
	if e.Method == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error in method %q: %s", e.Method, e.Reason)
}

// ProviderErrorKind classifies backend failures for logging and routing
// decisions.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"
	// ProviderErrorKindInvalidRequest indicates the backend rejected the request.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	// ProviderErrorKindRateLimited indicates the backend is throttling requests.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"
	// ProviderErrorKindUnavailable indicates a transient backend failure.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"
	// ProviderErrorKindDecode indicates the response did not match the shape.
	ProviderErrorKindDecode ProviderErrorKind = "decode"
	// ProviderErrorKindUnknown indicates an unclassified failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a backend adapter. The
// resilience executor retries every adapter failure; the kind and status are
// carried so listeners and logs can surface stable information.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	HTTPStatus int
	Message    string
	Cause      error
}

// NewProviderError constructs a ProviderError. provider and kind are required.
func NewProviderError(provider string, kind ProviderErrorKind, status int, message string, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{Provider: provider, Kind: kind, HTTPStatus: status, Message: message, Cause: cause}
}

// Error implements error.
func (e *ProviderError) Error() string {
	status := ""
	if e.HTTPStatus > 0 {
		status = fmt.Sprintf(" %d", e.HTTPStatus)
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s%s: %s", e.Provider, e.Kind, status, msg)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

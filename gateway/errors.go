package gateway

import (
	"errors"
	"fmt"
)

// DriverErrorKind is the closed set of failure categories every driver maps
// its backend errors into. The kind determines router behaviour (§4.6 step
// 4); the message carries the original backend detail for logs.
type DriverErrorKind string

const (
	KindAuth            DriverErrorKind = "auth"
	KindRateLimited     DriverErrorKind = "rate_limited"
	KindUnavailable     DriverErrorKind = "unavailable"
	KindModelNotFound   DriverErrorKind = "model_not_found"
	KindContentFiltered DriverErrorKind = "content_filtered"
	KindProtocol        DriverErrorKind = "protocol"
	KindCancelled       DriverErrorKind = "cancelled"
	KindInternal        DriverErrorKind = "internal"
)

// Transient reports whether the router should fall over to the next
// provider in the chain on this kind, rather than surfacing it directly.
func (k DriverErrorKind) Transient() bool {
	switch k {
	case KindUnavailable, KindRateLimited, KindInternal, KindProtocol:
		return true
	default:
		return false
	}
}

// DriverError is the uniform failure value every driver returns. Router and
// callers inspect Kind via AsDriverError rather than string-matching
// backend-specific error text.
type DriverError struct {
	Provider  string
	Operation string // "complete", "stream", "embed", "health_check"
	Kind      DriverErrorKind
	Message   string
	Code      string // backend-specific error code, when available
	Retryable bool
	Cause     error
}

func (e *DriverError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %s [%s]", e.Provider, e.Operation, e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s): %s", e.Provider, e.Operation, e.Kind, e.Message)
}

func (e *DriverError) Unwrap() error { return e.Cause }

// Is lets a driver failure the router surfaces directly match the router
// taxonomy: KindCancelled matches ErrCancelled, and every other
// non-transient kind matches ErrProviderError.
func (e *DriverError) Is(target error) bool {
	switch target {
	case ErrCancelled:
		return e.Kind == KindCancelled
	case ErrProviderError:
		return !e.Kind.Transient() && e.Kind != KindCancelled
	}
	return false
}

// AsDriverError extracts a *DriverError from err's chain, if present.
func AsDriverError(err error) (*DriverError, bool) {
	var de *DriverError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Router-level error taxonomy (§7). Callers match these with errors.Is;
// AllProvidersFailedError additionally carries the per-provider attempt list
// via errors.As.
var (
	ErrBudgetExceeded        = errors.New("aigateway: budget exceeded")
	ErrNoProvidersConfigured = errors.New("aigateway: no providers configured")
	ErrAllProvidersFailed    = errors.New("aigateway: all providers failed")
	ErrProviderError         = errors.New("aigateway: provider error")
	ErrCancelled             = errors.New("aigateway: cancelled")
	ErrInvalidRequest        = errors.New("aigateway: invalid request")
)

// AttemptError records one failed driver attempt during chain exhaustion.
type AttemptError struct {
	Provider string
	Kind     DriverErrorKind
	Message  string
}

// AllProvidersFailedError wraps ErrAllProvidersFailed with the ordered list
// of attempts that led to exhaustion, for diagnostics.
type AllProvidersFailedError struct {
	Attempts []AttemptError
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("aigateway: all %d provider(s) failed", len(e.Attempts))
}

func (e *AllProvidersFailedError) Unwrap() error { return ErrAllProvidersFailed }

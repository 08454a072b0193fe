package model

import (
	"context"
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories driving retry and user-facing messaging decisions.
type ProviderErrorKind string

const (
	// KindColdStart indicates the backend is still initializing (for example
	// an HTTP 503 with a loading status header). Retrying after a delay may
	// succeed without changing the request.
	KindColdStart ProviderErrorKind = "cold_start"

	// KindAuth indicates authentication or authorization failures. Permanent.
	KindAuth ProviderErrorKind = "auth"

	// KindQuota indicates the account is out of quota or credits. Permanent.
	KindQuota ProviderErrorKind = "quota"

	// KindInvalidRequest indicates the request is malformed; retrying without
	// changing it will not succeed.
	KindInvalidRequest ProviderErrorKind = "invalid_request"

	// KindRateLimited indicates the provider is throttling requests.
	KindRateLimited ProviderErrorKind = "rate_limited"

	// KindNetwork indicates a connectivity failure reaching the provider.
	// Permanent for the current attempt.
	KindNetwork ProviderErrorKind = "network"

	// KindTimeout indicates the provider did not respond in time. Permanent
	// for the current attempt, with a distinct user message from KindNetwork.
	KindTimeout ProviderErrorKind = "timeout"

	// KindUnknown indicates an unclassified provider failure.
	KindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider. It crosses
// package boundaries so the session can surface stable, structured
// information to clients without inspecting SDK-specific error types.
type ProviderError struct {
	provider string
	http     int
	kind     ProviderErrorKind
	message  string
	cause    error
}

// NewProviderError constructs a ProviderError. provider and kind are
// required. cause may be nil but is recommended to preserve the original
// error chain.
func NewProviderError(provider string, httpStatus int, kind ProviderErrorKind, message string, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		provider: provider,
		http:     httpStatus,
		kind:     kind,
		message:  message,
		cause:    cause,
	}
}

// Provider returns the provider identifier (for example, "selfhosted").
func (e *ProviderError) Provider() string { return e.provider }

// HTTPStatus returns the provider HTTP status code when available, otherwise 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Kind returns the coarse-grained classification.
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }

// Message returns the provider error message when available.
func (e *ProviderError) Message() string { return e.message }

// Retryable reports whether retrying the call after a delay may succeed
// without changing the request. Only cold-start failures qualify; rate limits
// are handled by the client-side limiter, not the session retry loop.
func (e *ProviderError) Retryable() bool { return e.kind == KindColdStart }

func (e *ProviderError) Error() string {
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf(" %d", e.http)
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s%s: %s", e.provider, e.kind, status, msg)
}

// Unwrap returns the underlying provider error to preserve the error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// UserMessage maps err to the single explanatory message shown to clients
// before stream close. Every terminal failure path goes through this mapping
// so no session ends with a silently closed connection.
func UserMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Request aborted."
	}
	pe, ok := AsProviderError(err)
	if !ok {
		return "Something went wrong while generating a response. Please try again."
	}
	switch pe.Kind() {
	case KindColdStart:
		return "The model service is still starting up. Please try again shortly."
	case KindAuth:
		return "The configured provider credentials were rejected."
	case KindQuota:
		return "The provider quota has been exhausted for this account."
	case KindRateLimited:
		return "The provider is rate limiting requests. Please slow down and retry."
	case KindNetwork:
		return "Could not reach the model service. Check your connection and try again."
	case KindTimeout:
		return "The model service took too long to respond. Please try again."
	case KindInvalidRequest:
		return "The request was rejected by the provider as invalid."
	default:
		return "Something went wrong while generating a response. Please try again."
	}
}

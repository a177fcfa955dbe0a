// Package riperrors defines the unified error taxonomy shared by every
// RipTide component and the HTTP status mapping described in spec.md §4.12/§6.
package riperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories every component returns.
type Kind string

const (
	Validation         Kind = "Validation"
	InvalidUrl         Kind = "InvalidUrl"
	RateLimited        Kind = "RateLimited"
	Authentication     Kind = "Authentication"
	Fetch              Kind = "Fetch"
	Cache              Kind = "Cache"
	Extraction         Kind = "Extraction"
	Routing            Kind = "Routing"
	Pipeline           Kind = "Pipeline"
	Config             Kind = "Config"
	Dependency         Kind = "Dependency"
	Internal           Kind = "Internal"
	Timeout            Kind = "Timeout"
	NotFound           Kind = "NotFound"
	PayloadTooLarge    Kind = "PayloadTooLarge"
	InvalidContentType Kind = "InvalidContentType"
	MissingHeader      Kind = "MissingHeader"
	InvalidHeaderValue Kind = "InvalidHeaderValue"
	InvalidParameter   Kind = "InvalidParameter"
	FeatureNotEnabled  Kind = "FeatureNotEnabled"
	CircuitBreakerOpen Kind = "CircuitBreakerOpen"
)

// Error is the concrete error value every component returns. It carries
// the taxonomy Kind, a human message, an optional retry-after hint (for
// RateLimited/CircuitBreakerOpen) and an optional wrapped cause.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int // seconds, 0 if not applicable
	Op         string
	Cause      error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap builds a taxonomy error that preserves an underlying cause.
func Wrap(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// WithRetryAfter attaches a retry-after hint (seconds) and returns the
// same error for chaining at the call site.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// KindOf extracts the Kind from any error in the chain, defaulting to
// Internal when the error does not originate from this package.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return Internal
}

// IsRetryable reports whether the taxonomy kind is safe to retry,
// per spec.md §4.12: true for Timeout, Cache, Dependency, Fetch.
func IsRetryable(kind Kind) bool {
	switch kind {
	case Timeout, Cache, Dependency, Fetch:
		return true
	default:
		return false
	}
}

// StatusCode maps a Kind to its HTTP status class, per spec.md §6.
// The mapping is total: every Kind above has an explicit entry, and
// unknown kinds fall back to 500.
func StatusCode(kind Kind) int {
	switch kind {
	case Validation, InvalidUrl, InvalidParameter, MissingHeader, InvalidHeaderValue:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case Timeout:
		return http.StatusRequestTimeout
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case InvalidContentType:
		return http.StatusUnsupportedMediaType
	case RateLimited:
		return http.StatusTooManyRequests
	case Fetch:
		return http.StatusBadGateway
	case Cache, Dependency:
		return http.StatusServiceUnavailable
	case Extraction, Routing, Pipeline, Config, Internal:
		return http.StatusInternalServerError
	case FeatureNotEnabled:
		return http.StatusNotImplemented
	case CircuitBreakerOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON error envelope returned at the HTTP boundary,
// per spec.md §6: {error:{type, message, retryable, status}}.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

type EnvelopeBody struct {
	Type       Kind   `json:"type"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	Status     int    `json:"status"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ToEnvelope converts any error into the HTTP response envelope,
// classifying unknown errors as Internal. An error that carries a
// retry-after hint is reported as retryable whatever its kind.
func ToEnvelope(err error) Envelope {
	var rerr *Error
	kind := Internal
	msg := "internal error"
	retryAfter := 0
	if errors.As(err, &rerr) {
		kind = rerr.Kind
		msg = rerr.Error()
		retryAfter = rerr.RetryAfter
	} else if err != nil {
		msg = err.Error()
	}
	return Envelope{Error: EnvelopeBody{
		Type:       kind,
		Message:    msg,
		Retryable:  IsRetryable(kind) || retryAfter > 0,
		Status:     StatusCode(kind),
		RetryAfter: retryAfter,
	}}
}

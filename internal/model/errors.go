package model

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrorKind classifies a provider failure so callers can make retry and
// circuit decisions without inspecting provider-specific errors.
type ErrorKind string

const (
	ErrTimeout         ErrorKind = "timeout"
	ErrRateLimited     ErrorKind = "rate_limited"
	ErrCircuitOpen     ErrorKind = "circuit_open"
	ErrInvalidInput    ErrorKind = "invalid_input"
	ErrUnauthenticated ErrorKind = "unauthenticated"
	ErrNotFound        ErrorKind = "not_found"
	ErrUnknown         ErrorKind = "unknown"
)

// ProviderError is the classified error returned by every provider gateway
// call. It replaces exception-style signaling with an explicit tagged value.
type ProviderError struct {
	Kind    ErrorKind
	Service string
	Err     error
	// RetryAfter is set for rate_limited and circuit_open errors to tell the
	// caller when a re-attempt is worthwhile.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether the error is safe to retry. Circuit-open counts
// as transient for the caller's retry decision, though it must never be
// attributed back to the breaker as a new failure.
func (e *ProviderError) Transient() bool {
	switch e.Kind {
	case ErrTimeout, ErrRateLimited, ErrCircuitOpen, ErrUnknown:
		return true
	default:
		return false
	}
}

// Permanent reports whether retrying can never succeed.
func (e *ProviderError) Permanent() bool {
	switch e.Kind {
	case ErrInvalidInput, ErrUnauthenticated:
		return true
	default:
		return false
	}
}

// CountsTowardCircuit reports whether the failure should increment the
// breaker's failure counter. Malformed input is not the provider's fault,
// and a circuit-open rejection was never attempted.
func (e *ProviderError) CountsTowardCircuit() bool {
	switch e.Kind {
	case ErrTimeout, ErrRateLimited, ErrUnknown:
		return true
	default:
		return false
	}
}

// NewProviderError builds a classified error for a service.
func NewProviderError(service string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Service: service, Err: err}
}

// AsProviderError extracts a ProviderError from an error chain, or nil.
func AsProviderError(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

// ClassifyError converts an arbitrary error from a provider call into a
// ProviderError. Already-classified errors pass through unchanged.
func ClassifyError(service string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	if pe := AsProviderError(err); pe != nil {
		return pe
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return NewProviderError(service, ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewProviderError(service, ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "tls handshake timeout"),
		strings.Contains(msg, "connection reset by peer"):
		return NewProviderError(service, ErrTimeout, err)
	case strings.Contains(msg, "too many requests"):
		return NewProviderError(service, ErrRateLimited, err)
	}
	return NewProviderError(service, ErrUnknown, err)
}

// KindForHTTPStatus maps an HTTP status code to an error kind.
func KindForHTTPStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrUnauthenticated
	case status == 404:
		return ErrNotFound
	case status == 408 || status == 504:
		return ErrTimeout
	case status == 429:
		return ErrRateLimited
	case status == 400 || status == 422:
		return ErrInvalidInput
	case status >= 500:
		return ErrUnknown
	default:
		return ErrUnknown
	}
}

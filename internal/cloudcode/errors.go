// Package cloudcode implements the dispatch engine for the Google Cloud Code
// backend: account selection, the retry/failover state machine, and
// streaming/non-streaming request handling.
package cloudcode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a dispatch error for the retry state machine
type ErrorKind string

const (
	// KindRateLimited is a short rate limit that already retried once
	KindRateLimited ErrorKind = "RATE_LIMITED"
	// KindRateLimitedDedup is a short rate limit suppressed by the dedup window
	KindRateLimitedDedup ErrorKind = "RATE_LIMITED_DEDUP"
	// KindQuotaExhausted is a long 429 from one account
	KindQuotaExhausted ErrorKind = "QUOTA_EXHAUSTED"
	// KindResourceExhausted means every account is cooldown-locked past the
	// acceptable wait and no fallback model is available
	KindResourceExhausted ErrorKind = "RESOURCE_EXHAUSTED"
	// KindAuthInvalidPermanent is a permanently revoked credential
	KindAuthInvalidPermanent ErrorKind = "AUTH_INVALID_PERMANENT"
	// KindAuthInvalid is a transient auth failure (stale cached token)
	KindAuthInvalid ErrorKind = "AUTH_INVALID"
	// KindAPIError is any other upstream HTTP error
	KindAPIError ErrorKind = "API_ERROR"
)

// UpstreamError is a classified upstream failure. Structured fields travel
// with the error so outer layers never re-parse response bodies.
type UpstreamError struct {
	Kind      ErrorKind
	Status    int
	ResetMs   int64
	ErrorText string
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	if e.Kind == KindAPIError {
		return fmt.Sprintf("API error %d: %s", e.Status, e.ErrorText)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.ErrorText)
}

// Is429 reports whether the upstream responded 429
func (e *UpstreamError) Is429() bool {
	return e.Status == 429
}

// NewUpstreamError creates a classified upstream error
func NewUpstreamError(kind ErrorKind, status int, resetMs int64, errorText string) *UpstreamError {
	return &UpstreamError{
		Kind:      kind,
		Status:    status,
		ResetMs:   resetMs,
		ErrorText: errorText,
	}
}

// IsRateLimitError reports whether an error should drive an account switch
// due to rate limiting.
func IsRateLimitError(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		switch ue.Kind {
		case KindRateLimited, KindRateLimitedDedup, KindQuotaExhausted, KindResourceExhausted:
			return true
		}
	}
	return false
}

// IsAuthError reports whether an error is an authentication failure
// (permanent or transient).
func IsAuthError(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind == KindAuthInvalid || ue.Kind == KindAuthInvalidPermanent
	}
	return false
}

// IsPermanentAuthError reports whether an error marks revoked credentials
func IsPermanentAuthError(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind == KindAuthInvalidPermanent
	}
	return false
}

// IsServerError reports whether an error was a 5xx upstream response
func IsServerError(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 500
	}
	return false
}

// EmptyResponseError signals that the upstream SSE stream carried no content
// parts; the streaming dispatcher retries these.
type EmptyResponseError struct {
	Message string
}

// NewEmptyResponseError creates an EmptyResponseError
func NewEmptyResponseError(message string) *EmptyResponseError {
	return &EmptyResponseError{Message: message}
}

// Error implements the error interface
func (e *EmptyResponseError) Error() string {
	return e.Message
}

// IsEmptyResponseError checks whether an error is an EmptyResponseError
func IsEmptyResponseError(err error) bool {
	var ere *EmptyResponseError
	return errors.As(err, &ere)
}

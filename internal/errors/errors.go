// Package errors provides the Anthropic-format error envelope returned to
// inbound clients.
package errors

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ErrorType is the error type in Anthropic wire format
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypePermission     ErrorType = "permission_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeAPI            ErrorType = "api_error"
	ErrorTypeOverloaded     ErrorType = "overloaded_error"
)

// AnthropicError is an error response in Anthropic format:
// {"type":"error","error":{"type":...,"message":...}}
type AnthropicError struct {
	Type   string      `json:"type"`
	Detail ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and message
type ErrorDetail struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Error implements the error interface
func (e *AnthropicError) Error() string {
	return e.Detail.Message
}

// ToJSON serializes the error envelope
func (e *AnthropicError) ToJSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// StatusCode maps the error type to an HTTP status
func (e *AnthropicError) StatusCode() int {
	switch e.Detail.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates an AnthropicError
func NewError(errType ErrorType, message string) *AnthropicError {
	return &AnthropicError{
		Type: "error",
		Detail: ErrorDetail{
			Type:    errType,
			Message: message,
		},
	}
}

// InvalidRequest creates an invalid request error
func InvalidRequest(message string) *AnthropicError {
	return NewError(ErrorTypeInvalidRequest, message)
}

// AuthenticationError creates an authentication error
func AuthenticationError(message string) *AnthropicError {
	return NewError(ErrorTypeAuthentication, message)
}

// RateLimitError creates a rate limit error
func RateLimitError(message string) *AnthropicError {
	return NewError(ErrorTypeRateLimit, message)
}

// APIError creates a generic API error
func APIError(message string) *AnthropicError {
	return NewError(ErrorTypeAPI, message)
}

// OverloadedError creates an overloaded error
func OverloadedError(message string) *AnthropicError {
	return NewError(ErrorTypeOverloaded, message)
}

// FromError maps a dispatcher error onto the client-facing envelope.
// Classification works on the message because typed dispatch errors flatten
// their kind into the message prefix.
func FromError(err error) *AnthropicError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*AnthropicError); ok {
		return ae
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(msg, "QUOTA_EXHAUSTED"),
		strings.Contains(msg, "RATE_LIMITED"),
		strings.Contains(msg, "Max retries exceeded"):
		return RateLimitError(msg)
	case strings.Contains(msg, "AUTH_INVALID"):
		return AuthenticationError(msg)
	case strings.Contains(msg, "invalid_request_error"),
		strings.Contains(msg, "No accounts"):
		return InvalidRequest(msg)
	case strings.Contains(msg, "overloaded"):
		return OverloadedError(msg)
	default:
		return APIError(msg)
	}
}

package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodeMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, InvalidRequest("x").StatusCode())
	assert.Equal(t, http.StatusUnauthorized, AuthenticationError("x").StatusCode())
	assert.Equal(t, http.StatusTooManyRequests, RateLimitError("x").StatusCode())
	assert.Equal(t, http.StatusServiceUnavailable, OverloadedError("x").StatusCode())
	assert.Equal(t, http.StatusInternalServerError, APIError("x").StatusCode())
}

func TestFromErrorClassification(t *testing.T) {
	cases := map[string]ErrorType{
		"RESOURCE_EXHAUSTED: Rate limited on gemini-3-flash": ErrorTypeRateLimit,
		"QUOTA_EXHAUSTED: long reset":                        ErrorTypeRateLimit,
		"RATE_LIMITED: slow down":                            ErrorTypeRateLimit,
		"Max retries exceeded":                               ErrorTypeRateLimit,
		"AUTH_INVALID_PERMANENT: invalid_grant":              ErrorTypeAuthentication,
		"invalid_request_error: bad payload":                 ErrorTypeInvalidRequest,
		"No accounts available":                              ErrorTypeInvalidRequest,
		"something else broke":                               ErrorTypeAPI,
	}

	for message, wantType := range cases {
		got := FromError(errors.New(message))
		require.NotNil(t, got, message)
		assert.Equal(t, wantType, got.Detail.Type, message)
	}
}

func TestFromErrorPassesThrough(t *testing.T) {
	original := RateLimitError("limit")
	assert.Same(t, original, FromError(original))
	assert.Nil(t, FromError(nil))
}

func TestEnvelopeShape(t *testing.T) {
	data := InvalidRequest("bad").ToJSON()
	assert.JSONEq(t, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, string(data))
}

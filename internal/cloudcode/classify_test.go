package cloudcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
)

func TestIsPermanentAuthFailure(t *testing.T) {
	permanent := []string{
		`{"error": "invalid_grant"}`,
		"Token Revoked by user",
		"Token has been expired or revoked.",
		"TOKEN_REVOKED",
		"invalid_client: unauthorized",
		"The credentials are invalid",
	}
	for _, text := range permanent {
		assert.True(t, IsPermanentAuthFailure(text), text)
	}

	assert.False(t, IsPermanentAuthFailure("token expired, refresh required"))
	assert.False(t, IsPermanentAuthFailure(""))
}

func TestIsModelCapacityExhausted(t *testing.T) {
	capacity := []string{
		`{"error": {"status": "MODEL_CAPACITY_EXHAUSTED"}}`,
		"capacity_exhausted",
		"The model is currently overloaded, please retry",
		"Service Temporarily Unavailable",
	}
	for _, text := range capacity {
		assert.True(t, IsModelCapacityExhausted(text), text)
	}

	assert.False(t, IsModelCapacityExhausted("quota exceeded for today"))
}

func TestIsNetworkError(t *testing.T) {
	network := []error{
		errors.New("fetch failed"),
		errors.New("Network Error during POST"),
		errors.New("read tcp: ECONNRESET"),
		errors.New("dial: ETIMEDOUT"),
		errors.New("socket hang up"),
		errors.New("context deadline exceeded (Client.Timeout exceeded)"),
	}
	for _, err := range network {
		if assert.NotNil(t, err) {
			assert.True(t, utils.IsNetworkError(fmt.Errorf("wrapped: %w", err)), err.Error())
		}
	}

	assert.False(t, utils.IsNetworkError(errors.New("invalid request")))
	assert.False(t, utils.IsNetworkError(nil))
}

func TestUpstreamErrorClassification(t *testing.T) {
	rateLimited := NewUpstreamError(KindRateLimited, 429, 5000, "slow down")
	assert.True(t, IsRateLimitError(rateLimited))
	assert.True(t, rateLimited.Is429())
	assert.False(t, IsAuthError(rateLimited))

	dedup := NewUpstreamError(KindRateLimitedDedup, 429, 10_000, "dedup")
	assert.True(t, IsRateLimitError(dedup))

	quota := NewUpstreamError(KindQuotaExhausted, 429, 300_000, "quota")
	assert.True(t, IsRateLimitError(quota))

	permanent := NewUpstreamError(KindAuthInvalidPermanent, 401, 0, "invalid_grant")
	assert.True(t, IsAuthError(permanent))
	assert.True(t, IsPermanentAuthError(permanent))
	assert.False(t, IsRateLimitError(permanent))

	transient := NewUpstreamError(KindAuthInvalid, 401, 0, "expired")
	assert.True(t, IsAuthError(transient))
	assert.False(t, IsPermanentAuthError(transient))

	server := NewUpstreamError(KindAPIError, 503, 0, "unavailable")
	assert.True(t, IsServerError(server))
	assert.False(t, IsRateLimitError(server))

	// Classification survives wrapping
	wrapped := fmt.Errorf("dispatch failed: %w", rateLimited)
	assert.True(t, IsRateLimitError(wrapped))
}

func TestEmptyResponseError(t *testing.T) {
	err := NewEmptyResponseError("no content")
	assert.True(t, IsEmptyResponseError(err))
	assert.True(t, IsEmptyResponseError(fmt.Errorf("stream: %w", err)))
	assert.False(t, IsEmptyResponseError(errors.New("no content")))
}

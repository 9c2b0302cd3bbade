package trackers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
)

func TestTokenBucketDefaults(t *testing.T) {
	tracker := NewTokenBucketTracker(config.TokenBucketConfig{})

	assert.Equal(t, 50.0, tracker.GetTokens("a@example.com"))
	assert.Equal(t, 50.0, tracker.GetMaxTokens())
	assert.True(t, tracker.HasTokens("a@example.com"))
}

func TestTokenBucketConsumeRefundRoundTrip(t *testing.T) {
	tracker := NewTokenBucketTracker(config.TokenBucketConfig{})
	email := "a@example.com"

	before := tracker.GetTokens(email)
	assert.True(t, tracker.Consume(email))
	assert.Equal(t, before-1, tracker.GetTokens(email))

	tracker.Refund(email)
	assert.Equal(t, before, tracker.GetTokens(email))
}

func TestTokenBucketExhaustion(t *testing.T) {
	tracker := NewTokenBucketTracker(config.TokenBucketConfig{MaxTokens: 2, InitialTokens: 2})
	email := "a@example.com"

	assert.True(t, tracker.Consume(email))
	assert.True(t, tracker.Consume(email))
	assert.False(t, tracker.HasTokens(email))
	assert.False(t, tracker.Consume(email))
	assert.Equal(t, 0.0, tracker.GetTokens(email))
}

func TestTokenBucketRefundCapped(t *testing.T) {
	tracker := NewTokenBucketTracker(config.TokenBucketConfig{MaxTokens: 2, InitialTokens: 2})
	email := "a@example.com"

	tracker.Refund(email)
	tracker.Refund(email)
	assert.Equal(t, 2.0, tracker.GetTokens(email))
}

func TestTokenBucketReset(t *testing.T) {
	tracker := NewTokenBucketTracker(config.TokenBucketConfig{MaxTokens: 5, InitialTokens: 5})
	email := "a@example.com"

	tracker.Consume(email)
	tracker.Consume(email)
	tracker.Reset(email)
	assert.Equal(t, 5.0, tracker.GetTokens(email))
}

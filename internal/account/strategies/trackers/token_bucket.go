// Package trackers provides per-account state tracking for account selection.
package trackers

import (
	"sync"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
)

// TokenBucketTracker throttles per-account concurrency with a soft credit
// counter: selection consumes a token, a failed dispatch refunds it. There is
// no time-based refill; refunds are the only replenishment.
type TokenBucketTracker struct {
	mu      sync.RWMutex
	buckets map[string]float64
	config  config.TokenBucketConfig
}

// NewTokenBucketTracker creates a tracker, filling unset config with defaults
func NewTokenBucketTracker(cfg config.TokenBucketConfig) *TokenBucketTracker {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 50
	}
	if cfg.InitialTokens == 0 {
		cfg.InitialTokens = 50
	}

	return &TokenBucketTracker{
		buckets: make(map[string]float64),
		config:  cfg,
	}
}

// GetTokens returns the current token count for an account
func (t *TokenBucketTracker) GetTokens(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokensLocked(email)
}

func (t *TokenBucketTracker) tokensLocked(email string) float64 {
	tokens, ok := t.buckets[email]
	if !ok {
		return t.config.InitialTokens
	}
	return tokens
}

// HasTokens reports whether an account has at least one token available
func (t *TokenBucketTracker) HasTokens(email string) bool {
	return t.GetTokens(email) >= 1
}

// Consume takes one token from an account's bucket. Returns false when the
// bucket is empty.
func (t *TokenBucketTracker) Consume(email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := t.tokensLocked(email)
	if tokens < 1 {
		return false
	}
	t.buckets[email] = tokens - 1
	return true
}

// Refund returns one token to an account's bucket, capped at MaxTokens.
// Called when a dispatch fails after consuming a token.
func (t *TokenBucketTracker) Refund(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := t.tokensLocked(email) + 1
	if tokens > t.config.MaxTokens {
		tokens = t.config.MaxTokens
	}
	t.buckets[email] = tokens
}

// GetMaxTokens returns the bucket capacity
func (t *TokenBucketTracker) GetMaxTokens() float64 {
	return t.config.MaxTokens
}

// Reset restores an account's bucket to the initial token count
func (t *TokenBucketTracker) Reset(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[email] = t.config.InitialTokens
}

// Clear drops all tracked buckets
func (t *TokenBucketTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = make(map[string]float64)
}

// Snapshot returns all bucket levels for status reporting
func (t *TokenBucketTracker) Snapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]float64, len(t.buckets))
	for email := range t.buckets {
		result[email] = t.tokensLocked(email)
	}
	return result
}

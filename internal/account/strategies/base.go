// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// BaseStrategy provides the usability filter shared by all strategies
type BaseStrategy struct {
	config *Config
}

// NewBaseStrategy creates a BaseStrategy
func NewBaseStrategy(cfg *Config) *BaseStrategy {
	return &BaseStrategy{config: cfg}
}

// IsAccountUsable checks the eligibility invariant for an account and model:
// enabled, not invalid, and either not rate-limited for the model or past the
// recorded reset time.
func (s *BaseStrategy) IsAccountUsable(account *redis.Account, modelID string) bool {
	if account == nil || account.IsInvalid || !account.Enabled {
		return false
	}

	if modelID == "" || account.ModelRateLimits == nil {
		return true
	}

	info, ok := account.ModelRateLimits[modelID]
	if !ok || info == nil || !info.IsRateLimited {
		return true
	}
	return info.ResetTime > 0 && time.Now().UnixMilli() >= info.ResetTime
}

// AccountWithIndex pairs an account with its position in the account list
type AccountWithIndex struct {
	Account *redis.Account
	Index   int
}

// GetUsableAccounts returns all usable accounts with their original indices
func (s *BaseStrategy) GetUsableAccounts(accounts []*redis.Account, modelID string) []AccountWithIndex {
	result := make([]AccountWithIndex, 0, len(accounts))
	for i, account := range accounts {
		if s.IsAccountUsable(account, modelID) {
			result = append(result, AccountWithIndex{Account: account, Index: i})
		}
	}
	return result
}

// RateLimitWaitMs returns the remaining cooldown for an account and model,
// or 0 when it is not rate-limited.
func (s *BaseStrategy) RateLimitWaitMs(account *redis.Account, modelID string) int64 {
	if account == nil || account.ModelRateLimits == nil {
		return 0
	}
	info, ok := account.ModelRateLimits[modelID]
	if !ok || info == nil || !info.IsRateLimited || info.ResetTime == 0 {
		return 0
	}
	wait := info.ResetTime - time.Now().UnixMilli()
	if wait < 0 {
		return 0
	}
	return wait
}

// OnSuccess is a no-op; strategies that track state override it
func (s *BaseStrategy) OnSuccess(account *redis.Account, modelID string) {}

// OnRateLimit is a no-op; strategies that track state override it
func (s *BaseStrategy) OnRateLimit(account *redis.Account, modelID string) {}

// OnFailure is a no-op; strategies that track state override it
func (s *BaseStrategy) OnFailure(account *redis.Account, modelID string) {}

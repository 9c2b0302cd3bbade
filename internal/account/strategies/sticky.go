// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// StickyStrategy keeps using the same account until it becomes unavailable.
// Best for prompt caching as it maintains cache continuity across requests.
type StickyStrategy struct {
	*BaseStrategy
}

// NewStickyStrategy creates a StickyStrategy
func NewStickyStrategy(cfg *Config) *StickyStrategy {
	return &StickyStrategy{BaseStrategy: NewBaseStrategy(cfg)}
}

// SelectAccount prefers the current account for cache continuity. It switches
// only when the current account is unusable and another one is free; when
// nothing else is free and the current account's cooldown is short enough, it
// asks the caller to wait instead.
func (s *StickyStrategy) SelectAccount(accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: options.CurrentIndex}
	}

	index := options.CurrentIndex
	if index < 0 || index >= len(accounts) {
		index = 0
	}

	current := accounts[index]

	if s.IsAccountUsable(current, modelID) {
		current.LastUsed = time.Now().UnixMilli()
		if options.OnSave != nil {
			options.OnSave()
		}
		return &SelectionResult{Account: current, Index: index}
	}

	// Current account unusable; switch to a free one if any exists
	if next, nextIndex := s.pickNext(accounts, index, modelID, options.OnSave); next != nil {
		utils.Info("[StickyStrategy] Switched account (failover): %s", next.Email)
		return &SelectionResult{Account: next, Index: nextIndex}
	}

	// Nothing else is free. Wait for the current account if its cooldown is
	// short enough to be worth sitting out.
	if current.Enabled && !current.IsInvalid {
		waitMs := s.RateLimitWaitMs(current, modelID)
		if waitMs > 0 && waitMs <= config.MaxWaitBeforeErrorMs {
			utils.Info("[StickyStrategy] Waiting %s for sticky account: %s",
				utils.FormatDuration(waitMs), current.Email)
			return &SelectionResult{Account: nil, Index: index, WaitMs: waitMs}
		}
	}

	return &SelectionResult{Account: nil, Index: index}
}

// pickNext scans forward with wrap-around for the first usable account
func (s *StickyStrategy) pickNext(accounts []*redis.Account, currentIndex int, modelID string, onSave func()) (*redis.Account, int) {
	for i := 1; i <= len(accounts); i++ {
		idx := (currentIndex + i) % len(accounts)
		account := accounts[idx]

		if s.IsAccountUsable(account, modelID) {
			account.LastUsed = time.Now().UnixMilli()
			if onSave != nil {
				onSave()
			}
			utils.Info("[StickyStrategy] Using account: %s (%d/%d)", account.Email, idx+1, len(accounts))
			return account, idx
		}
	}

	return nil, currentIndex
}

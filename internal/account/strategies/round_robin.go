// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"sync"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// RoundRobinStrategy rotates to the next account on every request for maximum
// throughput. Does not maintain cache continuity.
type RoundRobinStrategy struct {
	*BaseStrategy
	mu     sync.Mutex
	cursor int
}

// NewRoundRobinStrategy creates a RoundRobinStrategy
func NewRoundRobinStrategy(cfg *Config) *RoundRobinStrategy {
	return &RoundRobinStrategy{BaseStrategy: NewBaseStrategy(cfg)}
}

// SelectAccount probes indices starting at (cursor+1) mod N, skipping
// unusable accounts, and advances the cursor to the chosen slot.
func (s *RoundRobinStrategy) SelectAccount(accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: 0}
	}

	if s.cursor >= len(accounts) {
		s.cursor = 0
	}

	startIndex := (s.cursor + 1) % len(accounts)

	for i := 0; i < len(accounts); i++ {
		idx := (startIndex + i) % len(accounts)
		account := accounts[idx]

		if s.IsAccountUsable(account, modelID) {
			account.LastUsed = time.Now().UnixMilli()
			s.cursor = idx

			if options.OnSave != nil {
				options.OnSave()
			}

			utils.Info("[RoundRobinStrategy] Using account: %s (%d/%d)", account.Email, idx+1, len(accounts))
			return &SelectionResult{Account: account, Index: idx}
		}
	}

	return &SelectionResult{Account: nil, Index: s.cursor}
}

// ResetCursor resets the rotation cursor
func (s *RoundRobinStrategy) ResetCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

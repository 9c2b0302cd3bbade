// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account/strategies/trackers"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// HybridStrategy scores accounts on health, token credits, quota and
// time-since-last-use and picks the highest.
//
// Scoring formula:
//
//	score = (Health × 2) + ((Tokens / MaxTokens × 100) × 5) + (Quota × 3) + (MinutesIdle × 0.1)
type HybridStrategy struct {
	*BaseStrategy
	healthTracker      *trackers.HealthTracker
	tokenBucketTracker *trackers.TokenBucketTracker
	quotaTracker       *trackers.QuotaTracker
	weights            *WeightConfig
	globalThreshold    *float64
}

// NewHybridStrategy creates a HybridStrategy
func NewHybridStrategy(cfg *Config) *HybridStrategy {
	weights := DefaultWeights()

	var healthCfg = cfgOrZero(cfg).HealthScore
	var tokenCfg = cfgOrZero(cfg).TokenBucket
	var quotaCfg = cfgOrZero(cfg).Quota
	if cfg != nil && cfg.Weights != nil {
		weights = cfg.Weights
	}

	return &HybridStrategy{
		BaseStrategy:       NewBaseStrategy(cfg),
		healthTracker:      trackers.NewHealthTracker(healthCfg),
		tokenBucketTracker: trackers.NewTokenBucketTracker(tokenCfg),
		quotaTracker:       trackers.NewQuotaTracker(quotaCfg),
		weights:            weights,
	}
}

func cfgOrZero(cfg *Config) *Config {
	if cfg == nil {
		return &Config{}
	}
	return cfg
}

// SetGlobalThreshold sets the global quota threshold override
func (s *HybridStrategy) SetGlobalThreshold(threshold *float64) {
	s.globalThreshold = threshold
}

// SelectAccount picks the highest-scoring candidate, consumes one of its
// tokens and stamps its last-used time. Ties keep insertion order.
func (s *HybridStrategy) SelectAccount(accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: 0}
	}

	candidates := s.getCandidates(accounts, modelID)
	if len(candidates) == 0 {
		reason := s.diagnoseNoCandidates(accounts, modelID)
		utils.Warn("[HybridStrategy] No candidates available: %s", reason)
		return &SelectionResult{Account: nil, Index: 0}
	}

	type scoredCandidate struct {
		account *redis.Account
		index   int
		score   float64
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, scoredCandidate{
			account: c.Account,
			index:   c.Index,
			score:   s.calculateScore(c.Account, modelID),
		})
	}

	// Stable keeps insertion order on ties
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	best := scored[0]
	best.account.LastUsed = time.Now().UnixMilli()
	s.tokenBucketTracker.Consume(best.account.Email)

	if options.OnSave != nil {
		options.OnSave()
	}

	utils.Info("[HybridStrategy] Using account: %s (%d/%d, score: %.1f)",
		best.account.Email, best.index+1, len(accounts), best.score)

	return &SelectionResult{Account: best.account, Index: best.index}
}

// OnSuccess rewards the account's health score
func (s *HybridStrategy) OnSuccess(account *redis.Account, modelID string) {
	if account != nil && account.Email != "" {
		s.healthTracker.RecordSuccess(account.Email)
	}
}

// OnRateLimit penalizes the account's health score
func (s *HybridStrategy) OnRateLimit(account *redis.Account, modelID string) {
	if account != nil && account.Email != "" {
		s.healthTracker.RecordRateLimit(account.Email)
	}
}

// OnFailure penalizes health and refunds the consumed token
func (s *HybridStrategy) OnFailure(account *redis.Account, modelID string) {
	if account != nil && account.Email != "" {
		s.healthTracker.RecordFailure(account.Email)
		s.tokenBucketTracker.Refund(account.Email)
	}
}

// getCandidates filters accounts on usability, health, tokens and quota.
// When the quota filter empties the set, it is retried without that filter so
// a fleet of quota-critical accounts still serves traffic.
func (s *HybridStrategy) getCandidates(accounts []*redis.Account, modelID string) []AccountWithIndex {
	candidates := make([]AccountWithIndex, 0, len(accounts))

	for i, account := range accounts {
		if !s.IsAccountUsable(account, modelID) {
			continue
		}
		if !s.healthTracker.IsUsable(account.Email) {
			continue
		}
		if !s.tokenBucketTracker.HasTokens(account.Email) {
			continue
		}
		if s.quotaTracker.IsQuotaCritical(account, modelID, s.getEffectiveThreshold(account, modelID)) {
			utils.Debug("[HybridStrategy] Excluding %s: quota critically low for %s",
				account.Email, modelID)
			continue
		}
		candidates = append(candidates, AccountWithIndex{Account: account, Index: i})
	}

	if len(candidates) > 0 {
		return candidates
	}

	fallback := make([]AccountWithIndex, 0, len(accounts))
	for i, account := range accounts {
		if !s.IsAccountUsable(account, modelID) {
			continue
		}
		if !s.healthTracker.IsUsable(account.Email) {
			continue
		}
		if !s.tokenBucketTracker.HasTokens(account.Email) {
			continue
		}
		fallback = append(fallback, AccountWithIndex{Account: account, Index: i})
	}
	if len(fallback) > 0 {
		utils.Warn("[HybridStrategy] All accounts have critical quota, bypassing quota filter")
	}
	return fallback
}

// getEffectiveThreshold resolves the quota threshold for an account and model.
// Priority: per-model > per-account > global.
func (s *HybridStrategy) getEffectiveThreshold(account *redis.Account, modelID string) *float64 {
	if account.ModelQuotaThresholds != nil {
		if threshold, ok := account.ModelQuotaThresholds[modelID]; ok {
			return &threshold
		}
	}
	if account.QuotaThreshold != nil {
		return account.QuotaThreshold
	}
	return s.globalThreshold
}

// calculateScore computes the combined selection score for an account
func (s *HybridStrategy) calculateScore(account *redis.Account, modelID string) float64 {
	email := account.Email

	healthComponent := s.healthTracker.GetScore(email) * s.weights.Health

	tokenRatio := s.tokenBucketTracker.GetTokens(email) / s.tokenBucketTracker.GetMaxTokens()
	tokenComponent := tokenRatio * 100 * s.weights.Tokens

	quotaComponent := s.quotaTracker.GetScore(account, modelID) * s.weights.Quota

	// Idle time in minutes, capped at one hour
	minutesIdle := float64(time.Now().UnixMilli()-account.LastUsed) / 60000
	if minutesIdle > 60 {
		minutesIdle = 60
	}
	lruComponent := minutesIdle * s.weights.LRU

	return healthComponent + tokenComponent + quotaComponent + lruComponent
}

// diagnoseNoCandidates explains why no account passed the filters
func (s *HybridStrategy) diagnoseNoCandidates(accounts []*redis.Account, modelID string) string {
	var unusable, unhealthy, noTokens int

	for _, account := range accounts {
		if !s.IsAccountUsable(account, modelID) {
			unusable++
			continue
		}
		if !s.healthTracker.IsUsable(account.Email) {
			unhealthy++
			continue
		}
		if !s.tokenBucketTracker.HasTokens(account.Email) {
			noTokens++
		}
	}

	parts := make([]string, 0, 3)
	if unusable > 0 {
		parts = append(parts, fmt.Sprintf("%d unusable/disabled", unusable))
	}
	if unhealthy > 0 {
		parts = append(parts, fmt.Sprintf("%d unhealthy", unhealthy))
	}
	if noTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d without tokens", noTokens))
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}

// GetHealthTracker exposes the health tracker for status reporting
func (s *HybridStrategy) GetHealthTracker() *trackers.HealthTracker {
	return s.healthTracker
}

// GetTokenBucketTracker exposes the token bucket tracker for status reporting
func (s *HybridStrategy) GetTokenBucketTracker() *trackers.TokenBucketTracker {
	return s.tokenBucketTracker
}

// GetQuotaTracker exposes the quota tracker for status reporting
func (s *HybridStrategy) GetQuotaTracker() *trackers.QuotaTracker {
	return s.quotaTracker
}

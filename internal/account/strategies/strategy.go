// Package strategies provides account selection strategies for the proxy.
package strategies

import (
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// Strategy names
const (
	StrategySticky     = "sticky"
	StrategyRoundRobin = "round-robin"
	StrategyHybrid     = "hybrid"
)

// StrategyLabels are display labels for the strategies
var StrategyLabels = map[string]string{
	StrategySticky:     "Sticky (Cache-Optimized)",
	StrategyRoundRobin: "Round-Robin (Load-Balanced)",
	StrategyHybrid:     "Hybrid (Smart Distribution)",
}

// SelectOptions carries per-call selection inputs
type SelectOptions struct {
	CurrentIndex int
	OnSave       func()
}

// SelectionResult is the outcome of a selection. A nil Account with a
// positive WaitMs asks the caller to wait for the indicated cooldown.
type SelectionResult struct {
	Account *redis.Account
	Index   int
	WaitMs  int64
}

// Strategy picks an account for a model and observes dispatch outcomes
type Strategy interface {
	SelectAccount(accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult

	// OnSuccess is called after a successful request
	OnSuccess(account *redis.Account, modelID string)

	// OnRateLimit is called when a request is rate-limited
	OnRateLimit(account *redis.Account, modelID string)

	// OnFailure is called when a request fails (non-rate-limit error)
	OnFailure(account *redis.Account, modelID string)
}

// Config holds strategy tunables
type Config struct {
	HealthScore config.HealthScoreConfig
	TokenBucket config.TokenBucketConfig
	Quota       config.QuotaConfig
	Weights     *WeightConfig
}

// WeightConfig holds scoring weights for the hybrid strategy
type WeightConfig struct {
	Health float64
	Tokens float64
	Quota  float64
	LRU    float64
}

// DefaultWeights returns the default hybrid scoring weights
func DefaultWeights() *WeightConfig {
	return &WeightConfig{
		Health: 2.0,
		Tokens: 5.0,
		Quota:  3.0,
		LRU:    0.1,
	}
}

// NewStrategy creates a strategy instance by name, defaulting to hybrid
func NewStrategy(strategyName string, cfg *Config) Strategy {
	name := strategyName
	if name == "" {
		name = config.DefaultSelectionStrategy
	}

	switch name {
	case StrategySticky:
		return NewStickyStrategy(cfg)
	case StrategyRoundRobin, "roundrobin":
		return NewRoundRobinStrategy(cfg)
	case StrategyHybrid:
		return NewHybridStrategy(cfg)
	default:
		utils.Warn("[Strategy] Unknown strategy %q, falling back to %s", strategyName, config.DefaultSelectionStrategy)
		return NewHybridStrategy(cfg)
	}
}

// IsValidStrategy checks whether a strategy name is recognized
func IsValidStrategy(name string) bool {
	switch name {
	case StrategySticky, StrategyRoundRobin, StrategyHybrid, "roundrobin":
		return true
	default:
		return false
	}
}

// GetStrategyLabel returns the display label for a strategy name
func GetStrategyLabel(name string) string {
	if name == "" {
		name = config.DefaultSelectionStrategy
	}
	if name == "roundrobin" {
		name = StrategyRoundRobin
	}
	if label, ok := StrategyLabels[name]; ok {
		return label
	}
	return StrategyLabels[config.DefaultSelectionStrategy]
}

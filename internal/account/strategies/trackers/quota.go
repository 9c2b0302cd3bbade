// Package trackers provides per-account state tracking for account selection.
package trackers

import (
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// QuotaUnknown is returned when no quota data exists for an (account, model)
const QuotaUnknown = -1

// QuotaTracker reads the per-account quota snapshots maintained by the quota
// refresher and turns them into selection signals. Accounts below the critical
// threshold (with fresh data) are excluded from selection.
type QuotaTracker struct {
	config config.QuotaConfig
}

// NewQuotaTracker creates a tracker, filling unset config with defaults
func NewQuotaTracker(cfg config.QuotaConfig) *QuotaTracker {
	if cfg.LowThreshold == 0 {
		cfg.LowThreshold = 0.10
	}
	if cfg.CriticalThreshold == 0 {
		cfg.CriticalThreshold = 0.05
	}
	if cfg.StaleMs == 0 {
		cfg.StaleMs = 300_000
	}
	if cfg.UnknownScore == 0 {
		cfg.UnknownScore = 50
	}

	return &QuotaTracker{config: cfg}
}

// GetQuotaFraction returns the remaining fraction [0,1] for an account and
// model, or QuotaUnknown when no data exists.
func (t *QuotaTracker) GetQuotaFraction(account *redis.Account, modelID string) float64 {
	if account == nil || account.Quota == nil || account.Quota.Models == nil {
		return QuotaUnknown
	}

	modelQuota, ok := account.Quota.Models[modelID]
	if !ok || modelQuota == nil {
		return QuotaUnknown
	}

	return modelQuota.RemainingFraction
}

// IsQuotaFresh reports whether the quota snapshot is recent enough to trust
func (t *QuotaTracker) IsQuotaFresh(account *redis.Account) bool {
	if account == nil || account.Quota == nil || account.Quota.LastChecked == 0 {
		return false
	}
	lastChecked := time.UnixMilli(account.Quota.LastChecked)
	return time.Since(lastChecked) < time.Duration(t.config.StaleMs)*time.Millisecond
}

// IsQuotaCritical reports whether an account is critically low for a model.
// Requires known AND fresh data; unknown or stale quota is never critical.
func (t *QuotaTracker) IsQuotaCritical(account *redis.Account, modelID string, thresholdOverride *float64) bool {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return false
	}
	if !t.IsQuotaFresh(account) {
		return false
	}

	threshold := t.config.CriticalThreshold
	if thresholdOverride != nil && *thresholdOverride > 0 {
		threshold = *thresholdOverride
	}

	return fraction <= threshold
}

// IsQuotaLow reports whether an account is low (but not critical) for a model
func (t *QuotaTracker) IsQuotaLow(account *redis.Account, modelID string) bool {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return false
	}
	return fraction > t.config.CriticalThreshold && fraction <= t.config.LowThreshold
}

// GetScore converts quota data to a 0-100 selection score. Unknown quota maps
// to the middle score; stale data takes a 10% confidence penalty.
func (t *QuotaTracker) GetScore(account *redis.Account, modelID string) float64 {
	fraction := t.GetQuotaFraction(account, modelID)
	if fraction < 0 {
		return t.config.UnknownScore
	}

	score := fraction * 100
	if !t.IsQuotaFresh(account) {
		score *= 0.9
	}
	return score
}

// GetCriticalThreshold returns the critical threshold
func (t *QuotaTracker) GetCriticalThreshold() float64 {
	return t.config.CriticalThreshold
}

// GetLowThreshold returns the low threshold
func (t *QuotaTracker) GetLowThreshold() float64 {
	return t.config.LowThreshold
}

package trackers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

func accountWithQuota(fraction float64, checkedAgo time.Duration) *redis.Account {
	return &redis.Account{
		Email:   "a@example.com",
		Enabled: true,
		Quota: &redis.QuotaInfo{
			LastChecked: time.Now().Add(-checkedAgo).UnixMilli(),
			Models: map[string]*redis.ModelQuotaInfo{
				"gemini-3-flash": {RemainingFraction: fraction},
			},
		},
	}
}

func TestQuotaFractionUnknown(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})

	assert.Equal(t, float64(QuotaUnknown), tracker.GetQuotaFraction(nil, "gemini-3-flash"))
	assert.Equal(t, float64(QuotaUnknown), tracker.GetQuotaFraction(&redis.Account{}, "gemini-3-flash"))

	acc := accountWithQuota(0.5, time.Minute)
	assert.Equal(t, float64(QuotaUnknown), tracker.GetQuotaFraction(acc, "other-model"))
}

func TestQuotaCriticalRequiresFreshData(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})

	fresh := accountWithQuota(0.03, time.Minute)
	assert.True(t, tracker.IsQuotaCritical(fresh, "gemini-3-flash", nil))

	stale := accountWithQuota(0.03, 10*time.Minute)
	assert.False(t, tracker.IsQuotaCritical(stale, "gemini-3-flash", nil))

	unknown := &redis.Account{Email: "a@example.com"}
	assert.False(t, tracker.IsQuotaCritical(unknown, "gemini-3-flash", nil))
}

func TestQuotaThresholdBoundaries(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})

	// Exactly at the critical threshold is critical
	atCritical := accountWithQuota(0.05, time.Minute)
	assert.True(t, tracker.IsQuotaCritical(atCritical, "gemini-3-flash", nil))
	assert.False(t, tracker.IsQuotaLow(atCritical, "gemini-3-flash"))

	// Exactly at the low threshold is low
	atLow := accountWithQuota(0.10, time.Minute)
	assert.False(t, tracker.IsQuotaCritical(atLow, "gemini-3-flash", nil))
	assert.True(t, tracker.IsQuotaLow(atLow, "gemini-3-flash"))

	above := accountWithQuota(0.11, time.Minute)
	assert.False(t, tracker.IsQuotaLow(above, "gemini-3-flash"))
}

func TestQuotaThresholdOverride(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})
	acc := accountWithQuota(0.15, time.Minute)

	assert.False(t, tracker.IsQuotaCritical(acc, "gemini-3-flash", nil))

	override := 0.20
	assert.True(t, tracker.IsQuotaCritical(acc, "gemini-3-flash", &override))
}

func TestQuotaScore(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})

	unknown := &redis.Account{Email: "a@example.com"}
	assert.Equal(t, 50.0, tracker.GetScore(unknown, "gemini-3-flash"))

	fresh := accountWithQuota(0.8, time.Minute)
	assert.InDelta(t, 80.0, tracker.GetScore(fresh, "gemini-3-flash"), 0.01)

	// Stale data takes a 10% confidence penalty
	stale := accountWithQuota(0.8, 10*time.Minute)
	assert.InDelta(t, 72.0, tracker.GetScore(stale, "gemini-3-flash"), 0.01)
}

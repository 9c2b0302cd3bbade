package trackers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
)

func TestHealthTrackerDefaults(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{})

	assert.Equal(t, 70.0, tracker.GetScore("a@example.com"))
	assert.True(t, tracker.IsUsable("a@example.com"))
	assert.Equal(t, 0, tracker.GetConsecutiveFailures("a@example.com"))
}

func TestHealthTrackerRewardAndPenalty(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{})
	email := "a@example.com"

	tracker.RecordSuccess(email)
	assert.InDelta(t, 71.0, tracker.GetScore(email), 0.01)

	tracker.RecordRateLimit(email)
	assert.InDelta(t, 61.0, tracker.GetScore(email), 0.01)
	assert.Equal(t, 1, tracker.GetConsecutiveFailures(email))

	tracker.RecordFailure(email)
	assert.InDelta(t, 41.0, tracker.GetScore(email), 0.01)
	assert.Equal(t, 2, tracker.GetConsecutiveFailures(email))
	assert.False(t, tracker.IsUsable(email))

	// Success resets the failure streak
	tracker.RecordSuccess(email)
	assert.Equal(t, 0, tracker.GetConsecutiveFailures(email))
}

func TestHealthTrackerBoundsAreHard(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 95})
	email := "a@example.com"

	for i := 0; i < 20; i++ {
		tracker.RecordSuccess(email)
	}
	assert.Equal(t, 100.0, tracker.GetScore(email))

	for i := 0; i < 20; i++ {
		tracker.RecordFailure(email)
	}
	assert.Equal(t, 0.0, tracker.GetScore(email))
	assert.GreaterOrEqual(t, tracker.GetScore(email), 0.0)
}

func TestHealthTrackerRoundTrip(t *testing.T) {
	// With equal magnitudes, success then rate limit restores the score as
	// long as no bound was hit.
	tracker := NewHealthTracker(config.HealthScoreConfig{
		SuccessReward:    10,
		RateLimitPenalty: -10,
		RecoveryPerHour:  0.0001, // negligible within test runtime
	})
	email := "a@example.com"

	before := tracker.GetScore(email)
	tracker.RecordSuccess(email)
	tracker.RecordRateLimit(email)
	assert.InDelta(t, before, tracker.GetScore(email), 0.01)
}

func TestHealthTrackerResetAndClear(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{})
	email := "a@example.com"

	tracker.RecordFailure(email)
	tracker.Reset(email)
	assert.InDelta(t, 70.0, tracker.GetScore(email), 0.01)
	assert.Equal(t, 0, tracker.GetConsecutiveFailures(email))

	tracker.RecordFailure(email)
	tracker.Clear()
	assert.Equal(t, 70.0, tracker.GetScore("a@example.com"))
}

// Package trackers provides per-account state tracking for account selection.
package trackers

import (
	"sync"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
)

// HealthRecord stores health state for one account
type HealthRecord struct {
	Score               float64
	LastUpdated         time.Time
	ConsecutiveFailures int
}

// HealthTracker scores accounts so selection can prefer healthy ones.
// Scores rise on success, fall on rate limits and failures, and passively
// recover over time. Bounds are hard: scores stay within [0, MaxScore].
type HealthTracker struct {
	mu     sync.RWMutex
	scores map[string]*HealthRecord
	config config.HealthScoreConfig
}

// NewHealthTracker creates a HealthTracker, filling unset config with defaults
func NewHealthTracker(cfg config.HealthScoreConfig) *HealthTracker {
	if cfg.Initial == 0 {
		cfg.Initial = 70
	}
	if cfg.SuccessReward == 0 {
		cfg.SuccessReward = 1
	}
	if cfg.RateLimitPenalty == 0 {
		cfg.RateLimitPenalty = -10
	}
	if cfg.FailurePenalty == 0 {
		cfg.FailurePenalty = -20
	}
	if cfg.RecoveryPerHour == 0 {
		cfg.RecoveryPerHour = 10
	}
	if cfg.MinUsable == 0 {
		cfg.MinUsable = 50
	}
	if cfg.MaxScore == 0 {
		cfg.MaxScore = 100
	}

	return &HealthTracker{
		scores: make(map[string]*HealthRecord),
		config: cfg,
	}
}

// GetScore returns the health score for an account with passive recovery
// applied. Unknown accounts report the initial score.
func (t *HealthTracker) GetScore(email string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scoreLocked(email)
}

func (t *HealthTracker) scoreLocked(email string) float64 {
	record, ok := t.scores[email]
	if !ok {
		return t.config.Initial
	}

	recovered := record.Score + time.Since(record.LastUpdated).Hours()*t.config.RecoveryPerHour
	if recovered > t.config.MaxScore {
		return t.config.MaxScore
	}
	return recovered
}

// RecordSuccess rewards an account and resets its consecutive-failure count
func (t *HealthTracker) RecordSuccess(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newScore := t.scoreLocked(email) + t.config.SuccessReward
	if newScore > t.config.MaxScore {
		newScore = t.config.MaxScore
	}

	t.scores[email] = &HealthRecord{
		Score:       newScore,
		LastUpdated: time.Now(),
	}
}

// RecordRateLimit penalizes an account for a rate limit
func (t *HealthTracker) RecordRateLimit(email string) {
	t.applyPenalty(email, t.config.RateLimitPenalty)
}

// RecordFailure penalizes an account for a non-rate-limit failure
func (t *HealthTracker) RecordFailure(email string) {
	t.applyPenalty(email, t.config.FailurePenalty)
}

func (t *HealthTracker) applyPenalty(email string, penalty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newScore := t.scoreLocked(email) + penalty
	if newScore < 0 {
		newScore = 0
	}

	failures := 0
	if record, ok := t.scores[email]; ok {
		failures = record.ConsecutiveFailures
	}

	t.scores[email] = &HealthRecord{
		Score:               newScore,
		LastUpdated:         time.Now(),
		ConsecutiveFailures: failures + 1,
	}
}

// IsUsable reports whether an account's score clears the usable threshold
func (t *HealthTracker) IsUsable(email string) bool {
	return t.GetScore(email) >= t.config.MinUsable
}

// GetConsecutiveFailures returns the consecutive failure count for an account
func (t *HealthTracker) GetConsecutiveFailures(email string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if record, ok := t.scores[email]; ok {
		return record.ConsecutiveFailures
	}
	return 0
}

// GetMinUsable returns the minimum usable score threshold
func (t *HealthTracker) GetMinUsable() float64 {
	return t.config.MinUsable
}

// GetMaxScore returns the score cap
func (t *HealthTracker) GetMaxScore() float64 {
	return t.config.MaxScore
}

// Reset restores an account to the initial score
func (t *HealthTracker) Reset(email string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scores[email] = &HealthRecord{
		Score:       t.config.Initial,
		LastUpdated: time.Now(),
	}
}

// Clear drops all tracked scores
func (t *HealthTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scores = make(map[string]*HealthRecord)
}

// Snapshot returns a copy of all records for status reporting
func (t *HealthTracker) Snapshot() map[string]HealthRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]HealthRecord, len(t.scores))
	for email, record := range t.scores {
		result[email] = HealthRecord{
			Score:               t.scoreLocked(email),
			LastUpdated:         record.LastUpdated,
			ConsecutiveFailures: record.ConsecutiveFailures,
		}
	}
	return result
}

package cloudcode

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
)

// DispatchState owns the cross-request dispatch bookkeeping: the per-model
// dedup window that suppresses thundering-herd retries after a short rate
// limit, and the background sweeper that prunes stale entries. One value is
// created at process init and injected into both dispatchers; Close tears
// the sweeper down.
type DispatchState struct {
	mu    sync.Mutex
	dedup map[string]time.Time

	windowMs int64
	ttlMs    int64

	cron *cron.Cron
}

// NewDispatchState creates the dispatch state and starts its sweeper
func NewDispatchState() *DispatchState {
	s := &DispatchState{
		dedup:    make(map[string]time.Time),
		windowMs: config.RateLimitDedupWindowMs,
		ttlMs:    config.DedupEntryTTLMs,
	}

	s.cron = cron.New()
	_, _ = s.cron.AddFunc("@every 60s", s.Sweep)
	s.cron.Start()

	return s
}

// NewDispatchStateForTest creates dispatch state without a sweeper and with
// explicit window/TTL values.
func NewDispatchStateForTest(windowMs, ttlMs int64) *DispatchState {
	return &DispatchState{
		dedup:    make(map[string]time.Time),
		windowMs: windowMs,
		ttlMs:    ttlMs,
	}
}

// Close stops the background sweeper
func (s *DispatchState) Close() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RecordDedupTimestamp records that a short rate limit was just observed for
// the model.
func (s *DispatchState) RecordDedupTimestamp(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[modelID] = time.Now()
}

// ShouldSkipRetryDueToDedup reports whether another dispatch hit a short rate
// limit for this model within the dedup window. When true, the caller
// switches accounts instead of piling a local retry onto the same model.
func (s *DispatchState) ShouldSkipRetryDueToDedup(modelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.dedup[modelID]
	if !ok {
		return false
	}
	return time.Since(last).Milliseconds() < s.windowMs
}

// ClearDedupTimestamp drops the dedup entry for a model. Called on every
// successful dispatch.
func (s *DispatchState) ClearDedupTimestamp(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedup, modelID)
}

// Sweep removes dedup entries older than the TTL
func (s *DispatchState) Sweep() {
	cutoff := time.Now().Add(-time.Duration(s.ttlMs) * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	for modelID, last := range s.dedup {
		if last.Before(cutoff) {
			delete(s.dedup, modelID)
			utils.Debug("[DispatchState] Swept stale dedup entry for %s", modelID)
		}
	}
}

// DedupSize returns the number of live dedup entries
func (s *DispatchState) DedupSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dedup)
}

// Package account provides the account registry, rate-limit ledger and
// selection wiring for the dispatch engine.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account/strategies"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// Manager owns the in-memory account list and its rate-limit ledger. All
// dispatcher mutations of account state (cooldowns, invalid flags, quota
// snapshots, last-used stamps) go through here; changes are written through
// to the account store when one is configured.
type Manager struct {
	mu sync.RWMutex

	store    *redis.AccountStore
	accounts []*redis.Account

	currentIndex int
	initialized  bool

	credentials *Credentials

	strategy     strategies.Strategy
	strategyName string

	cfg *config.Config
}

// NewManager creates an account manager. The store may be nil, in which case
// accounts live only in memory.
func NewManager(store *redis.AccountStore, cfg *config.Config) *Manager {
	return &Manager{
		store:        store,
		accounts:     make([]*redis.Account, 0),
		credentials:  NewCredentials(store),
		strategyName: config.DefaultSelectionStrategy,
		cfg:          cfg,
	}
}

// Initialize loads accounts from the store and creates the strategy.
// Priority for the strategy name: explicit override > config > default.
func (m *Manager) Initialize(ctx context.Context, strategyOverride string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	if m.store.IsAvailable() {
		accounts, err := m.store.ListAccounts(ctx)
		if err != nil {
			utils.Warn("[AccountManager] Failed to load accounts: %v", err)
		} else {
			m.accounts = accounts
		}
	}

	if strategyOverride != "" {
		m.strategyName = strategyOverride
	} else if s := m.cfg.GetStrategy(); s != "" {
		m.strategyName = s
	}

	strategyConfig := &strategies.Config{Weights: strategies.DefaultWeights()}
	sel := m.cfg.AccountSelection
	if sel.HealthScore != nil {
		strategyConfig.HealthScore = *sel.HealthScore
	}
	if sel.TokenBucket != nil {
		strategyConfig.TokenBucket = *sel.TokenBucket
	}
	if sel.Quota != nil {
		strategyConfig.Quota = *sel.Quota
	}
	if sel.Weights != nil {
		strategyConfig.Weights = &strategies.WeightConfig{
			Health: sel.Weights.Health,
			Tokens: sel.Weights.Tokens,
			Quota:  sel.Weights.Quota,
			LRU:    sel.Weights.Lru,
		}
	}
	m.strategy = strategies.NewStrategy(m.strategyName, strategyConfig)
	utils.Info("[AccountManager] Using %s selection strategy", strategies.GetStrategyLabel(m.strategyName))

	m.clearExpiredLocked()
	m.initialized = true
	return nil
}

// SetAccounts replaces the account list (used by setups without a store)
func (m *Manager) SetAccounts(accounts []*redis.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
}

// AccountCount returns the number of configured accounts
func (m *Manager) AccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// AllAccounts returns a copy of the account list
func (m *Manager) AllAccounts() []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, len(m.accounts))
	copy(result, m.accounts)
	return result
}

// SelectAccount picks an account for a model using the configured strategy
func (m *Manager) SelectAccount(ctx context.Context, modelID string) (*strategies.SelectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}
	if len(m.accounts) == 0 {
		return nil, NewNoAccountsError("No accounts configured", false)
	}

	m.clearExpiredLocked()

	result := m.strategy.SelectAccount(m.accounts, modelID, strategies.SelectOptions{
		CurrentIndex: m.currentIndex,
		OnSave:       func() { m.persistAllAsync() },
	})

	if result.Account != nil {
		m.currentIndex = result.Index
	}
	return result, nil
}

// AvailableAccounts returns enabled, valid accounts without an active
// cooldown for the model.
func (m *Manager) AvailableAccounts(modelID string) []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if !isRateLimitedForModel(acc, modelID) {
			result = append(result, acc)
		}
	}
	return result
}

// IsAllRateLimited reports whether every usable account has an unexpired
// cooldown for the model. False when no usable accounts exist at all.
func (m *Manager) IsAllRateLimited(modelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usable := 0
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		usable++
		if !isRateLimitedForModel(acc, modelID) {
			return false
		}
	}
	return usable > 0
}

// MinWaitMs returns the shortest remaining cooldown across usable accounts
// for the model, or 0 when at least one account is already free.
func (m *Manager) MinWaitMs(modelID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UnixMilli()
	var minWait int64 = -1

	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		info := rateLimitInfo(acc, modelID)
		if info == nil || !info.IsRateLimited {
			return 0
		}
		wait := info.ResetTime - now
		if wait <= 0 {
			return 0
		}
		if minWait < 0 || wait < minWait {
			minWait = wait
		}
	}

	if minWait < 0 {
		return 0
	}
	return minWait
}

// MarkRateLimited records a cooldown for an (account, model) pair
func (m *Manager) MarkRateLimited(ctx context.Context, email string, resetMs int64, modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return
	}
	if acc.ModelRateLimits == nil {
		acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
	}
	acc.ModelRateLimits[modelID] = &redis.RateLimitInfo{
		IsRateLimited: true,
		ResetTime:     time.Now().UnixMilli() + resetMs,
	}
	m.persistAsync(acc)
}

// MarkInvalid flags an account as permanently unusable until an operator
// re-authenticates it.
func (m *Manager) MarkInvalid(ctx context.Context, email, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return
	}
	acc.IsInvalid = true
	acc.InvalidReason = reason
	acc.InvalidAt = time.Now().UnixMilli()
	m.persistAsync(acc)
}

// ClearInvalid removes the invalid flag from an account
func (m *Manager) ClearInvalid(ctx context.Context, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil || !acc.IsInvalid {
		return
	}
	acc.IsInvalid = false
	acc.InvalidReason = ""
	acc.InvalidAt = 0
	m.persistAsync(acc)
}

// ClearExpired drops cooldown flags whose reset time has passed
func (m *Manager) ClearExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearExpiredLocked()
}

func (m *Manager) clearExpiredLocked() int {
	now := time.Now().UnixMilli()
	cleared := 0
	for _, acc := range m.accounts {
		for _, info := range acc.ModelRateLimits {
			if info.IsRateLimited && info.ResetTime <= now {
				info.IsRateLimited = false
				cleared++
			}
		}
	}
	return cleared
}

// ResetAllRateLimits clears every cooldown on every account
func (m *Manager) ResetAllRateLimits(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		acc.ModelRateLimits = nil
		m.persistAsync(acc)
	}
}

// NotifySuccess forwards a success to the strategy's lifecycle hook
func (m *Manager) NotifySuccess(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnSuccess(account, modelID)
	}
}

// NotifyRateLimit forwards a rate limit to the strategy's lifecycle hook
func (m *Manager) NotifyRateLimit(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnRateLimit(account, modelID)
	}
}

// NotifyFailure forwards a failure to the strategy's lifecycle hook. For the
// hybrid strategy this refunds the consumed token.
func (m *Manager) NotifyFailure(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnFailure(account, modelID)
	}
}

// GetConsecutiveFailures reports the account's consecutive failure count, 0
// for strategies that do not track health.
func (m *Manager) GetConsecutiveFailures(email string) int {
	if hs, ok := m.strategy.(*strategies.HybridStrategy); ok {
		return hs.GetHealthTracker().GetConsecutiveFailures(email)
	}
	return 0
}

// GetTokenForAccount obtains a bearer token for the account. A permanent
// refresh failure marks the account invalid.
func (m *Manager) GetTokenForAccount(ctx context.Context, acc *redis.Account) (string, error) {
	token, err := m.credentials.GetAccessToken(ctx, acc)
	if err != nil {
		if isCredentialError(err) {
			m.MarkInvalid(ctx, acc.Email, err.Error())
		}
		return "", err
	}

	// A working token proves the credentials are good again
	if acc.IsInvalid {
		m.ClearInvalid(ctx, acc.Email)
	}
	return token, nil
}

// GetProjectForAccount resolves the Cloud Code project for the account
func (m *Manager) GetProjectForAccount(ctx context.Context, acc *redis.Account, token string) string {
	return m.credentials.GetProjectID(ctx, acc, token)
}

// ClearTokenCacheFor drops the cached bearer token for an account
func (m *Manager) ClearTokenCacheFor(email string) {
	m.credentials.ClearTokenCache(context.Background(), email)
}

// ClearProjectCacheFor drops the cached project ID for an account
func (m *Manager) ClearProjectCacheFor(email string) {
	m.credentials.ClearProjectCache(context.Background(), email)
}

// UpdateAccountQuota records a fresh quota snapshot for an account
func (m *Manager) UpdateAccountQuota(email string, models map[string]*redis.ModelQuotaInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return
	}
	if acc.Quota == nil {
		acc.Quota = &redis.QuotaInfo{Models: make(map[string]*redis.ModelQuotaInfo)}
	}
	acc.Quota.LastChecked = time.Now().UnixMilli()
	for modelID, quota := range models {
		acc.Quota.Models[modelID] = quota
	}
	m.persistAsync(acc)
}

// GetAccountByEmail returns the account with the given email, or nil
func (m *Manager) GetAccountByEmail(email string) *redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(email)
}

// SetAccountEnabled toggles an account's operator-enabled flag
func (m *Manager) SetAccountEnabled(ctx context.Context, email string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.findLocked(email)
	if acc == nil {
		return NewNoAccountsError("Account "+email+" not found", false)
	}
	acc.Enabled = enabled
	return m.persist(ctx, acc)
}

// AddOrUpdateAccount inserts or replaces an account
func (m *Manager) AddOrUpdateAccount(ctx context.Context, acc *redis.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.accounts {
		if existing.Email == acc.Email {
			m.accounts[i] = acc
			utils.Info("[AccountManager] Account %s updated", acc.Email)
			return m.persist(ctx, acc)
		}
	}

	if len(m.accounts) >= m.cfg.MaxAccounts {
		return NewNoAccountsError("Maximum accounts reached", false)
	}

	m.accounts = append(m.accounts, acc)
	utils.Info("[AccountManager] Account %s added", acc.Email)
	return m.persist(ctx, acc)
}

// RemoveAccount deletes an account
func (m *Manager) RemoveAccount(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, acc := range m.accounts {
		if acc.Email == email {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			if m.store.IsAvailable() {
				return m.store.DeleteAccount(ctx, email)
			}
			return nil
		}
	}
	return NewNoAccountsError("Account "+email+" not found", false)
}

// StrategyName returns the active strategy name
func (m *Manager) StrategyName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategyName
}

// Strategy returns the active strategy
func (m *Manager) Strategy() strategies.Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

func (m *Manager) findLocked(email string) *redis.Account {
	for _, acc := range m.accounts {
		if acc.Email == email {
			return acc
		}
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, acc *redis.Account) error {
	if !m.store.IsAvailable() {
		return nil
	}
	return m.store.SetAccount(ctx, acc)
}

// persistAsync writes an account snapshot to the store without blocking the
// dispatch path.
func (m *Manager) persistAsync(acc *redis.Account) {
	if !m.store.IsAvailable() {
		return
	}
	snapshot := *acc
	go func() {
		if err := m.store.SetAccount(context.Background(), &snapshot); err != nil {
			utils.Warn("[AccountManager] Failed to save account %s: %v", snapshot.Email, err)
		}
	}()
}

func (m *Manager) persistAllAsync() {
	if !m.store.IsAvailable() {
		return
	}
	for _, acc := range m.accounts {
		m.persistAsync(acc)
	}
}

func isRateLimitedForModel(acc *redis.Account, modelID string) bool {
	info := rateLimitInfo(acc, modelID)
	if info == nil || !info.IsRateLimited {
		return false
	}
	return info.ResetTime == 0 || time.Now().UnixMilli() < info.ResetTime
}

func rateLimitInfo(acc *redis.Account, modelID string) *redis.RateLimitInfo {
	if modelID == "" || acc.ModelRateLimits == nil {
		return nil
	}
	return acc.ModelRateLimits[modelID]
}

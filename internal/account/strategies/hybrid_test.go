package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

func freshQuota(acc *redis.Account, model string, fraction float64) {
	acc.Quota = &redis.QuotaInfo{
		LastChecked: time.Now().UnixMilli(),
		Models: map[string]*redis.ModelQuotaInfo{
			model: {RemainingFraction: fraction},
		},
	}
}

func TestHybridPrefersHigherQuota(t *testing.T) {
	s := NewHybridStrategy(nil)
	accounts := makeAccounts(2)

	// Identical health, tokens and last-used; only quota differs
	lastUsed := time.Now().Add(-10 * time.Minute).UnixMilli()
	accounts[0].LastUsed = lastUsed
	accounts[1].LastUsed = lastUsed
	freshQuota(accounts[0], testModel, 0.20)
	freshQuota(accounts[1], testModel, 0.80)

	result := s.SelectAccount(accounts, testModel, SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, accounts[1].Email, result.Account.Email)

	// Selection consumes a token and advances last-used
	assert.Equal(t, 49.0, s.GetTokenBucketTracker().GetTokens(accounts[1].Email))
	assert.Greater(t, result.Account.LastUsed, lastUsed)
}

func TestHybridExcludesCriticalQuota(t *testing.T) {
	s := NewHybridStrategy(nil)
	accounts := makeAccounts(2)
	freshQuota(accounts[0], testModel, 0.02)
	freshQuota(accounts[1], testModel, 0.50)

	result := s.SelectAccount(accounts, testModel, SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, accounts[1].Email, result.Account.Email)
}

func TestHybridQuotaBypassWhenAllCritical(t *testing.T) {
	s := NewHybridStrategy(nil)
	accounts := makeAccounts(2)
	freshQuota(accounts[0], testModel, 0.01)
	freshQuota(accounts[1], testModel, 0.02)

	// Nothing passes the quota filter, so it is bypassed rather than failing
	result := s.SelectAccount(accounts, testModel, SelectOptions{})
	require.NotNil(t, result.Account)
}

func TestHybridSkipsUnhealthyAccounts(t *testing.T) {
	s := NewHybridStrategy(nil)
	accounts := makeAccounts(2)

	for i := 0; i < 3; i++ {
		s.OnFailure(accounts[0], testModel)
	}
	assert.False(t, s.GetHealthTracker().IsUsable(accounts[0].Email))

	result := s.SelectAccount(accounts, testModel, SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, accounts[1].Email, result.Account.Email)
}

func TestHybridOnFailureRefundsToken(t *testing.T) {
	s := NewHybridStrategy(nil)
	accounts := makeAccounts(1)

	result := s.SelectAccount(accounts, testModel, SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, 49.0, s.GetTokenBucketTracker().GetTokens(result.Account.Email))

	s.OnFailure(result.Account, testModel)
	assert.Equal(t, 50.0, s.GetTokenBucketTracker().GetTokens(result.Account.Email))
}

func TestHybridLifecycleHooksTrackHealth(t *testing.T) {
	s := NewHybridStrategy(nil)
	acc := makeAccounts(1)[0]

	s.OnSuccess(acc, testModel)
	assert.InDelta(t, 71.0, s.GetHealthTracker().GetScore(acc.Email), 0.01)

	s.OnRateLimit(acc, testModel)
	assert.InDelta(t, 61.0, s.GetHealthTracker().GetScore(acc.Email), 0.01)
}

func TestHybridTieBreakKeepsInsertionOrder(t *testing.T) {
	s := NewHybridStrategy(nil)
	accounts := makeAccounts(3)

	result := s.SelectAccount(accounts, testModel, SelectOptions{})
	require.NotNil(t, result.Account)
	assert.Equal(t, 0, result.Index)
}

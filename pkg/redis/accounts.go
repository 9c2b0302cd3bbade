// Package redis wraps the Redis client with the proxy's storage operations.
package redis

import (
	"context"
	"sort"
	"time"
)

// Account is a configured upstream identity. The dispatch engine mutates only
// IsInvalid, ModelRateLimits, LastUsed and Quota; everything else belongs to
// the operator.
type Account struct {
	Email        string `json:"email"`
	Source       string `json:"source"` // "oauth", "manual", "database"
	Enabled      bool   `json:"enabled"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	// Quota management
	QuotaThreshold       *float64           `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64 `json:"modelQuotaThresholds,omitempty"`
	Quota                *QuotaInfo         `json:"quota,omitempty"`

	// Per-model rate limit state
	ModelRateLimits map[string]*RateLimitInfo `json:"modelRateLimits,omitempty"`

	// Status tracking
	LastUsed      int64  `json:"lastUsed,omitempty"` // unix ms
	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	InvalidAt     int64  `json:"invalidAt,omitempty"` // unix ms
}

// QuotaInfo is the last-known per-model quota snapshot for an account
type QuotaInfo struct {
	Models      map[string]*ModelQuotaInfo `json:"models"`
	LastChecked int64                      `json:"lastChecked,omitempty"` // unix ms
}

// ModelQuotaInfo is the remaining quota for one model
type ModelQuotaInfo struct {
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime,omitempty"`
}

// RateLimitInfo is the cooldown state for one (account, model) pair
type RateLimitInfo struct {
	IsRateLimited bool  `json:"isRateLimited"`
	ResetTime     int64 `json:"resetTime,omitempty"` // unix ms
}

// CachedToken is an access token stored with its extraction time
type CachedToken struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// AccountStore persists accounts and per-account caches in Redis
type AccountStore struct {
	client *Client
}

// NewAccountStore creates an AccountStore over the given client
func NewAccountStore(client *Client) *AccountStore {
	return &AccountStore{client: client}
}

// IsAvailable reports whether the backing Redis client is usable
func (s *AccountStore) IsAvailable() bool {
	return s != nil && s.client != nil
}

// GetAccount retrieves an account by email; returns nil when absent
func (s *AccountStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	var acc Account
	found, err := s.client.GetJSON(ctx, PrefixAccounts+email, &acc)
	if err != nil || !found {
		return nil, err
	}
	return &acc, nil
}

// SetAccount stores an account and indexes it
func (s *AccountStore) SetAccount(ctx context.Context, acc *Account) error {
	if err := s.client.SetJSON(ctx, PrefixAccounts+acc.Email, acc, 0); err != nil {
		return err
	}
	return s.client.SAdd(ctx, KeyAccountIndex, acc.Email)
}

// DeleteAccount removes an account and its caches
func (s *AccountStore) DeleteAccount(ctx context.Context, email string) error {
	if err := s.client.SRem(ctx, KeyAccountIndex, email); err != nil {
		return err
	}
	return s.client.Delete(ctx,
		PrefixAccounts+email,
		PrefixTokenCache+email,
		PrefixProjectCache+email,
	)
}

// ListAccounts returns all stored accounts ordered by email
func (s *AccountStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	emails, err := s.client.SMembers(ctx, KeyAccountIndex)
	if err != nil {
		return nil, err
	}
	sort.Strings(emails)

	accounts := make([]*Account, 0, len(emails))
	for _, email := range emails {
		acc, err := s.GetAccount(ctx, email)
		if err != nil {
			return nil, err
		}
		if acc != nil {
			accounts = append(accounts, acc)
		}
	}
	return accounts, nil
}

// GetCachedToken returns the cached access token for an account, if any
func (s *AccountStore) GetCachedToken(ctx context.Context, email string) (*CachedToken, error) {
	var token CachedToken
	found, err := s.client.GetJSON(ctx, PrefixTokenCache+email, &token)
	if err != nil || !found {
		return nil, err
	}
	return &token, nil
}

// SetCachedToken stores an access token with a TTL
func (s *AccountStore) SetCachedToken(ctx context.Context, email, accessToken string, ttl time.Duration) error {
	return s.client.SetJSON(ctx, PrefixTokenCache+email, &CachedToken{
		AccessToken: accessToken,
		ExtractedAt: time.Now(),
	}, ttl)
}

// DeleteCachedToken drops the cached access token for an account
func (s *AccountStore) DeleteCachedToken(ctx context.Context, email string) error {
	return s.client.Delete(ctx, PrefixTokenCache+email)
}

// GetCachedProject returns the cached project ID for an account, if any
func (s *AccountStore) GetCachedProject(ctx context.Context, email string) (string, error) {
	var project string
	found, err := s.client.GetJSON(ctx, PrefixProjectCache+email, &project)
	if err != nil || !found {
		return "", err
	}
	return project, nil
}

// SetCachedProject stores the discovered project ID for an account
func (s *AccountStore) SetCachedProject(ctx context.Context, email, projectID string, ttl time.Duration) error {
	return s.client.SetJSON(ctx, PrefixProjectCache+email, projectID, ttl)
}

// DeleteCachedProject drops the cached project ID for an account
func (s *AccountStore) DeleteCachedProject(ctx context.Context, email string) error {
	return s.client.Delete(ctx, PrefixProjectCache+email)
}

package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/auth"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// Credentials resolves bearer tokens and project IDs for accounts, caching
// both in memory and (when available) in Redis. The dispatcher clears these
// caches on transient 401s.
type Credentials struct {
	mu           sync.RWMutex
	store        *redis.AccountStore
	tokenCache   map[string]*cachedToken
	projectCache map[string]string
}

// NewCredentials creates a credentials manager over an optional store
func NewCredentials(store *redis.AccountStore) *Credentials {
	return &Credentials{
		store:        store,
		tokenCache:   make(map[string]*cachedToken),
		projectCache: make(map[string]string),
	}
}

// GetAccessToken returns a bearer token for the account, refreshing via
// OAuth (or the local Antigravity database) when the cache is cold.
func (c *Credentials) GetAccessToken(ctx context.Context, acc *redis.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("account is nil")
	}

	c.mu.RLock()
	cached, ok := c.tokenCache[acc.Email]
	c.mu.RUnlock()
	if ok && cached.expiresAt.After(time.Now()) {
		return cached.token, nil
	}

	if c.store.IsAvailable() {
		stored, err := c.store.GetCachedToken(ctx, acc.Email)
		if err == nil && stored != nil && stored.AccessToken != "" {
			if time.Since(stored.ExtractedAt) < config.TokenRefreshIntervalMs*time.Millisecond {
				c.cacheToken(acc.Email, stored.AccessToken)
				return stored.AccessToken, nil
			}
		}
	}

	token, err := c.freshToken(ctx, acc)
	if err != nil {
		return "", err
	}

	c.cacheToken(acc.Email, token)
	if c.store.IsAvailable() {
		_ = c.store.SetCachedToken(ctx, acc.Email, token, config.TokenRefreshIntervalMs*time.Millisecond)
	}
	return token, nil
}

func (c *Credentials) freshToken(ctx context.Context, acc *redis.Account) (string, error) {
	switch acc.Source {
	case "oauth":
		if acc.RefreshToken == "" {
			return "", fmt.Errorf("no refresh token for account %s", acc.Email)
		}
		utils.Debug("[Credentials] Refreshing OAuth token for %s", utils.MaskEmail(acc.Email))
		result, err := auth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			utils.Error("[Credentials] Token refresh failed for %s: %v", utils.MaskEmail(acc.Email), err)
			return "", err
		}
		return result.AccessToken, nil

	case "manual":
		if acc.APIKey != "" {
			return acc.APIKey, nil
		}
		return "", fmt.Errorf("no API key for manual account %s", acc.Email)

	case "database":
		return auth.ExtractDatabaseToken(ctx, config.AntigravityDBPath())

	default:
		return "", fmt.Errorf("unknown account source: %s", acc.Source)
	}
}

func (c *Credentials) cacheToken(email, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache[email] = &cachedToken{
		token:     token,
		expiresAt: time.Now().Add(config.TokenRefreshIntervalMs * time.Millisecond),
	}
}

// GetProjectID resolves the Cloud Code project for an account. Order:
// explicit account setting, composite refresh-token segment, cached
// discovery, configured default.
func (c *Credentials) GetProjectID(ctx context.Context, acc *redis.Account, token string) string {
	if acc.ProjectID != "" {
		return acc.ProjectID
	}

	if parts := auth.ParseRefreshParts(acc.RefreshToken); parts.ProjectID != "" {
		return parts.ProjectID
	}

	c.mu.RLock()
	cached, ok := c.projectCache[acc.Email]
	c.mu.RUnlock()
	if ok && cached != "" {
		return cached
	}

	if c.store.IsAvailable() {
		if stored, err := c.store.GetCachedProject(ctx, acc.Email); err == nil && stored != "" {
			c.mu.Lock()
			c.projectCache[acc.Email] = stored
			c.mu.Unlock()
			return stored
		}
	}

	return config.DefaultProjectID
}

// ClearTokenCache drops the cached token for an account
func (c *Credentials) ClearTokenCache(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.tokenCache, email)
	c.mu.Unlock()

	if c.store.IsAvailable() {
		_ = c.store.DeleteCachedToken(ctx, email)
	}
}

// ClearProjectCache drops the cached project ID for an account
func (c *Credentials) ClearProjectCache(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.projectCache, email)
	c.mu.Unlock()

	if c.store.IsAvailable() {
		_ = c.store.DeleteCachedProject(ctx, email)
	}
}

// ClearAll drops every cached credential
func (c *Credentials) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache = make(map[string]*cachedToken)
	c.projectCache = make(map[string]string)
}

// Package auth provides Google OAuth token refresh and local token
// extraction for configured accounts.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
)

// RefreshParts are the components of a composite refresh token, stored as
// "refreshToken|projectId|managedProjectId".
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token string
func ParseRefreshParts(refresh string) RefreshParts {
	parts := strings.Split(refresh, "|")
	result := RefreshParts{}

	if len(parts) > 0 {
		result.RefreshToken = parts[0]
	}
	if len(parts) > 1 {
		result.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		result.ManagedProjectID = parts[2]
	}
	return result
}

// FormatRefreshParts joins refresh token parts back into the composite form
func FormatRefreshParts(parts RefreshParts) string {
	base := parts.RefreshToken + "|" + parts.ProjectID
	if parts.ManagedProjectID != "" {
		return base + "|" + parts.ManagedProjectID
	}
	return base
}

// TokenResult is the outcome of a successful token refresh
type TokenResult struct {
	AccessToken string
	ExpiresIn   int
}

var refreshClient = &http.Client{Timeout: 30 * time.Second}

// RefreshAccessToken exchanges a refresh token for a fresh access token.
// The refresh token may be in composite form.
func RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	parts := ParseRefreshParts(refreshToken)

	form := url.Values{}
	form.Set("client_id", config.OAuthConfig.ClientID)
	form.Set("client_secret", config.OAuthConfig.ClientSecret)
	form.Set("refresh_token", parts.RefreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		config.OAuthConfig.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := refreshClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed (%d): %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("token refresh failed: invalid response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("token refresh failed: empty access token")
	}

	return &TokenResult{
		AccessToken: payload.AccessToken,
		ExpiresIn:   payload.ExpiresIn,
	}, nil
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
)

// AccountsHandler serves the JSON account admin endpoints
type AccountsHandler struct {
	accounts *account.Manager
}

// NewAccountsHandler creates an AccountsHandler
func NewAccountsHandler(accounts *account.Manager) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

type accountView struct {
	Email         string `json:"email"`
	Source        string `json:"source"`
	Enabled       bool   `json:"enabled"`
	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	LastUsed      int64  `json:"lastUsed,omitempty"`
	RateLimited   bool   `json:"rateLimited"`
}

// List returns the configured accounts without credentials
func (h *AccountsHandler) List(c *gin.Context) {
	accounts := h.accounts.AllAccounts()
	views := make([]accountView, 0, len(accounts))

	for _, acc := range accounts {
		rateLimited := false
		for _, info := range acc.ModelRateLimits {
			if info.IsRateLimited && info.ResetTime > utils.NowMs() {
				rateLimited = true
				break
			}
		}
		views = append(views, accountView{
			Email:         acc.Email,
			Source:        acc.Source,
			Enabled:       acc.Enabled,
			IsInvalid:     acc.IsInvalid,
			InvalidReason: acc.InvalidReason,
			LastUsed:      acc.LastUsed,
			RateLimited:   rateLimited,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    len(views),
		"accounts": views,
	})
}

// SetEnabled toggles an account's enabled flag
func (h *AccountsHandler) SetEnabled(c *gin.Context) {
	email := c.Param("email")

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}

	if err := h.accounts.SetAccountEnabled(c.Request.Context(), email, body.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	utils.Info("[Server] Account %s enabled=%t", utils.MaskEmail(email), body.Enabled)
	c.JSON(http.StatusOK, gin.H{"email": email, "enabled": body.Enabled})
}

// ResetRateLimits clears every cooldown on every account
func (h *AccountsHandler) ResetRateLimits(c *gin.Context) {
	h.accounts.ResetAllRateLimits(c.Request.Context())
	utils.Info("[Server] Rate limits reset by operator")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

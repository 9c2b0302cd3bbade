package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
)

// HealthHandler serves GET /health
type HealthHandler struct {
	accounts *account.Manager
}

// NewHealthHandler creates a HealthHandler
func NewHealthHandler(accounts *account.Manager) *HealthHandler {
	return &HealthHandler{accounts: accounts}
}

// Health reports liveness and basic account pool state
func (h *HealthHandler) Health(c *gin.Context) {
	available := 0
	invalid := 0
	for _, acc := range h.accounts.AllAccounts() {
		if acc.IsInvalid || !acc.Enabled {
			invalid++
		} else {
			available++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"version":  config.Version,
		"strategy": h.accounts.StrategyName(),
		"accounts": gin.H{
			"total":     h.accounts.AccountCount(),
			"available": available,
			"invalid":   invalid,
		},
	})
}

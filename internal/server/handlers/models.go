package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/cloudcode"
)

// ModelsHandler serves GET /v1/models
type ModelsHandler struct{}

// NewModelsHandler creates a ModelsHandler
func NewModelsHandler() *ModelsHandler {
	return &ModelsHandler{}
}

// ListModels returns the supported models in Anthropic list format
func (h *ModelsHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, cloudcode.ListModels())
}

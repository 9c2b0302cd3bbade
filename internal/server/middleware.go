// Package server provides the HTTP surface of the proxy.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
)

// RequestLogger logs request method, path, status and latency
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if status >= 500 {
			utils.Error("[Server] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, latency)
		} else {
			utils.Debug("[Server] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, latency)
		}
	}
}

// APIKeyAuth rejects requests without the configured key. An empty key
// disables inbound authentication.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("x-api-key")
		if provided == "" {
			provided = c.GetHeader("Authorization")
			if len(provided) > 7 && provided[:7] == "Bearer " {
				provided = provided[7:]
			}
		}

		if provided != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "Invalid API key",
				},
			})
			return
		}
		c.Next()
	}
}

// BodySizeLimit caps inbound request bodies
func BodySizeLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// CORS allows browser clients to reach the proxy
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, anthropic-version")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

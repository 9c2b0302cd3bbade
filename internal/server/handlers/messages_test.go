package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/cloudcode"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	manager := account.NewManager(nil, cfg)
	require.NoError(t, manager.Initialize(context.Background(), "sticky"))
	client := cloudcode.NewClient(manager, cfg)
	t.Cleanup(client.Close)

	h := NewMessagesHandler(manager, client, cfg)

	router := gin.New()
	router.POST("/v1/messages", h.Messages)
	router.POST("/v1/messages/count_tokens", h.CountTokens)
	return router
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMessagesRejectsEmptyMessages(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(router, "/v1/messages", map[string]any{
		"model":      "claude-sonnet-4-5",
		"max_tokens": 10,
		"messages":   []any{},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_error")
}

func TestCountTokensLocalEstimate(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(router, "/v1/messages/count_tokens", anthropic.CountTokensRequest{
		Model:  "claude-sonnet-4-5",
		System: "You are a helpful assistant.",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{
				{Type: "text", Text: "How many tokens does this sentence hold?"},
			}},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp anthropic.CountTokensResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Greater(t, resp.InputTokens, 10)
	assert.Less(t, resp.InputTokens, 60)
}

func TestCountTokensGrowsWithInput(t *testing.T) {
	router := newTestRouter(t)

	short := postJSON(router, "/v1/messages/count_tokens", anthropic.CountTokensRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	})
	long := postJSON(router, "/v1/messages/count_tokens", anthropic.CountTokensRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{
				Type: "text",
				Text: "This considerably longer message should clearly produce a larger token estimate than the short one.",
			}}},
		},
	})

	var shortResp, longResp anthropic.CountTokensResponse
	require.NoError(t, json.Unmarshal(short.Body.Bytes(), &shortResp))
	require.NoError(t, json.Unmarshal(long.Body.Bytes(), &longResp))
	assert.Greater(t, longResp.InputTokens, shortResp.InputTokens)
}

// Package handlers provides the HTTP request handlers for the proxy.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/cloudcode"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	apierrors "github.com/vpnbeni/antigravity-claude-proxy/internal/errors"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/server/sse"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

// MessagesHandler serves /v1/messages and /v1/messages/count_tokens
type MessagesHandler struct {
	accounts        *account.Manager
	client          *cloudcode.Client
	cfg             *config.Config
	fallbackEnabled bool
}

// NewMessagesHandler creates a MessagesHandler
func NewMessagesHandler(accounts *account.Manager, client *cloudcode.Client, cfg *config.Config) *MessagesHandler {
	return &MessagesHandler{
		accounts:        accounts,
		client:          client,
		cfg:             cfg,
		fallbackEnabled: cfg.IsFallbackEnabled(),
	}
}

// Messages handles POST /v1/messages
func (h *MessagesHandler) Messages(c *gin.Context) {
	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, apierrors.InvalidRequest("Invalid request body: "+err.Error()))
		return
	}

	if len(req.Messages) == 0 {
		h.sendError(c, apierrors.InvalidRequest("messages is required and must be a non-empty array"))
		return
	}

	if h.cfg.ModelMapping != nil {
		if mapped, ok := h.cfg.ModelMapping[req.Model]; ok && mapped != "" {
			utils.Info("[Server] Mapping model %s -> %s", req.Model, mapped)
			req.Model = mapped
		}
	}

	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	utils.Info("[API] Request for model: %s, stream: %t", req.Model, req.Stream)

	if req.Stream {
		h.handleStreaming(c, &req)
	} else {
		h.handleNonStreaming(c, &req)
	}
}

func (h *MessagesHandler) handleNonStreaming(c *gin.Context, req *anthropic.MessagesRequest) {
	resp, err := h.client.SendMessage(c.Request.Context(), req, h.fallbackEnabled)
	if err != nil {
		utils.Error("[API] Request failed: %v", err)
		h.sendError(c, apierrors.FromError(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MessagesHandler) handleStreaming(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()
	events, errs := h.client.SendMessageStream(ctx, req, h.fallbackEnabled)

	// Hold the headers until the first event so dispatch failures can still
	// produce a proper JSON error response.
	var firstEvent *cloudcode.SSEEvent
	var firstErr error

	select {
	case event, ok := <-events:
		if ok {
			firstEvent = event
		} else {
			select {
			case err := <-errs:
				firstErr = err
			default:
				firstErr = cloudcode.NewEmptyResponseError("No response received")
			}
		}
	case err := <-errs:
		firstErr = err
	case <-ctx.Done():
		firstErr = ctx.Err()
	}

	if firstErr != nil {
		utils.Error("[API] Initial stream error: %v", firstErr)
		h.sendError(c, apierrors.FromError(firstErr))
		return
	}

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		h.sendError(c, apierrors.APIError("Streaming not supported"))
		return
	}

	c.Status(http.StatusOK)
	writer.SetHeaders()

	if firstEvent != nil {
		if err := writer.WriteEvent(firstEvent.Type, firstEvent); err != nil {
			utils.Error("[API] Error writing first SSE event: %v", err)
			return
		}
	}

	for event := range events {
		if err := writer.WriteEvent(event.Type, event); err != nil {
			utils.Error("[API] Error writing SSE event: %v", err)
			return
		}
	}

	// A late failure after events started can only be reported as an error event
	select {
	case err := <-errs:
		if err != nil {
			utils.Error("[API] Stream ended with error: %v", err)
			apiErr := apierrors.FromError(err)
			_ = writer.WriteEvent("error", apiErr)
		}
	default:
	}
}

// CountTokens handles POST /v1/messages/count_tokens. Text-only inputs are
// estimated locally; inputs with media delegate to an upstream dry run with
// max_tokens 1.
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	var req anthropic.CountTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, apierrors.InvalidRequest("Invalid request body: "+err.Error()))
		return
	}

	if hasMediaContent(req.Messages) {
		probe := &anthropic.MessagesRequest{
			Model:     req.Model,
			Messages:  req.Messages,
			System:    req.System,
			Tools:     req.Tools,
			MaxTokens: 1,
		}
		resp, err := h.client.SendMessage(c.Request.Context(), probe, false)
		if err != nil {
			utils.Error("[API] count_tokens probe failed: %v", err)
			h.sendError(c, apierrors.FromError(err))
			return
		}
		count := 0
		if resp.Usage != nil {
			count = resp.Usage.InputTokens + resp.Usage.CacheReadInputTokens
		}
		c.JSON(http.StatusOK, anthropic.CountTokensResponse{InputTokens: count})
		return
	}

	c.JSON(http.StatusOK, anthropic.CountTokensResponse{
		InputTokens: estimateTokens(&req),
	})
}

func (h *MessagesHandler) sendError(c *gin.Context, err *apierrors.AnthropicError) {
	c.JSON(err.StatusCode(), err)
}

// hasMediaContent reports whether any message carries images or documents
func hasMediaContent(messages []anthropic.Message) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "image" || block.Type == "document" {
				return true
			}
		}
	}
	return false
}

// estimateTokens approximates the input token count of a text-only request.
// English text runs about four characters per token; per-message framing adds
// a small constant.
func estimateTokens(req *anthropic.CountTokensRequest) int {
	chars := 0

	switch s := req.System.(type) {
	case string:
		chars += len(s)
	case []any:
		if data, err := json.Marshal(s); err == nil {
			chars += len(data)
		}
	}

	overhead := 0
	for _, msg := range req.Messages {
		overhead += 5
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				chars += len(block.Text)
			case "thinking":
				chars += len(block.Thinking)
			case "tool_use":
				chars += len(block.Name) + len(block.Input)
			case "tool_result":
				if data, err := json.Marshal(block.Content); err == nil {
					chars += len(data)
				}
			}
		}
	}

	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description) + len(tool.InputSchema)
	}

	return chars/4 + overhead
}

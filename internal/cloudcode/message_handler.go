package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/format"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// MessageHandler drives the retry/failover state machine for non-streaming
// requests. Thinking models are served from the SSE endpoint and accumulated
// into a single response.
type MessageHandler struct {
	*dispatcher
}

// NewMessageHandler creates a MessageHandler
func NewMessageHandler(accounts *account.Manager, state *DispatchState, cfg *config.Config) *MessageHandler {
	return &MessageHandler{dispatcher: newDispatcher(accounts, state, cfg)}
}

// SendMessage dispatches a non-streaming request with account failover.
// When every attempt fails and fallbackEnabled is set, the request recurses
// once onto the configured fallback model.
func (h *MessageHandler) SendMessage(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (*anthropic.MessagesResponse, error) {
	model := req.Model
	isThinking := config.IsThinkingModel(model)

	var permanentAuthErr error

	for attempt := 0; attempt < h.maxAttempts(); attempt++ {
		acc, decision, err := h.nextAccount(ctx, model, fallbackEnabled)
		switch decision {
		case decisionRetry:
			continue
		case decisionFallback:
			return h.sendFallback(ctx, req, "all accounts exhausted")
		case decisionFail:
			if permanentAuthErr != nil && !IsRateLimitError(err) && ctx.Err() == nil {
				return nil, permanentAuthErr
			}
			return nil, err
		}

		token, err := h.accounts.GetTokenForAccount(ctx, acc)
		if err != nil {
			utils.Warn("[CloudCode] Failed to get token for %s: %v", utils.MaskEmail(acc.Email), err)
			continue
		}
		project := h.accounts.GetProjectForAccount(ctx, acc, token)

		payloadBytes, err := json.Marshal(BuildCloudCodeRequest(req, project))
		if err != nil {
			return nil, err
		}

		utils.Debug("[CloudCode] Sending request for model: %s (attempt %d)", model, attempt+1)

		rc := &requestContext{attempt: attempt}
		result, err := h.runEndpoints(ctx, rc, acc, model, token, payloadBytes, isThinking)
		if err != nil {
			if ctx.Err() != nil {
				// Refund the consumed token before giving up on cancel
				h.accounts.NotifyFailure(acc, model)
			}
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		if rc.lastError != nil {
			if IsPermanentAuthError(rc.lastError) {
				permanentAuthErr = rc.lastError
			}
			if err := h.handleAccountFailure(ctx, acc, model, rc.lastError); err != nil {
				return nil, err
			}
		}
	}

	if fallbackEnabled {
		if _, ok := config.GetFallbackModel(model); ok {
			return h.sendFallback(ctx, req, "all retries exhausted")
		}
	}
	if permanentAuthErr != nil {
		return nil, permanentAuthErr
	}
	return nil, fmt.Errorf("Max retries exceeded")
}

func (h *MessageHandler) sendFallback(ctx context.Context, req *anthropic.MessagesRequest, reason string) (*anthropic.MessagesResponse, error) {
	fallbackModel, _ := config.GetFallbackModel(req.Model)
	utils.Warn("[CloudCode] %s for %s, attempting fallback to %s", reason, req.Model, fallbackModel)
	fallbackRequest := *req
	fallbackRequest.Model = fallbackModel
	return h.SendMessage(ctx, &fallbackRequest, false)
}

// runEndpoints walks the endpoint roster for one account. Returns the
// response on success, (nil, nil) when the outer loop should move on
// (rc.lastError carries the classified failure), or a terminal error.
func (h *MessageHandler) runEndpoints(ctx context.Context, rc *requestContext, acc *redis.Account, model, token string, payloadBytes []byte, isThinking bool) (*anthropic.MessagesResponse, error) {
	for rc.endpointIndex = 0; rc.endpointIndex < len(h.endpoints); {
		endpoint := h.endpoints[rc.endpointIndex]

		var url, accept string
		if isThinking {
			url = endpoint + "/v1internal:streamGenerateContent?alt=sse"
			accept = "text/event-stream"
		} else {
			url = endpoint + "/v1internal:generateContent"
			accept = "application/json"
		}

		resp, err := h.doPost(ctx, url, token, model, accept, payloadBytes)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if utils.IsNetworkError(err) {
				utils.Warn("[CloudCode] Network error at %s: %v", endpoint, err)
				rc.lastError = err
				rc.endpointIndex++
				continue
			}
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			errorText := string(body)
			utils.Warn("[CloudCode] Error at %s: %d - %s", endpoint, resp.StatusCode,
				utils.TruncateString(errorText, 200))

			action, err := h.handleErrorStatus(ctx, rc, acc, model, resp.StatusCode, resp.Header, errorText)
			if err != nil {
				return nil, err
			}
			switch action {
			case actionRetrySame:
				continue
			case actionAdvance:
				rc.endpointIndex++
				continue
			case actionNextAccount:
				return nil, nil
			}
		}

		if isThinking {
			result, err := ParseThinkingSSEResponse(resp.Body, model)
			resp.Body.Close()
			if err != nil {
				if IsEmptyResponseError(err) {
					rc.lastError = NewUpstreamError(KindAPIError, 502, 0, err.Error())
					rc.endpointIndex++
					continue
				}
				return nil, err
			}
			h.recordSuccess(acc, model)
			return result, nil
		}

		var data map[string]any
		err = json.NewDecoder(resp.Body).Decode(&data)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		utils.Debug("[CloudCode] Response received")
		h.recordSuccess(acc, model)
		return format.ConvertGoogleToAnthropic(format.GoogleResponseFromMap(data), model), nil
	}

	return nil, nil
}

func (h *MessageHandler) recordSuccess(acc *redis.Account, model string) {
	h.state.ClearDedupTimestamp(model)
	h.accounts.NotifySuccess(acc, model)
}

// doPost issues one upstream POST with the Cloud Code headers
func (d *dispatcher) doPost(ctx context.Context, url, token, model, accept string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range BuildHeaders(token, model, accept) {
		req.Header.Set(k, v)
	}
	return d.httpClient.Do(req)
}

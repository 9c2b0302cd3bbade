package cloudcode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/account"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

// StreamingHandler drives the retry/failover state machine for streaming
// requests, forwarding upstream events as they arrive and recovering from
// empty responses.
type StreamingHandler struct {
	*dispatcher
}

// NewStreamingHandler creates a StreamingHandler
func NewStreamingHandler(accounts *account.Manager, state *DispatchState, cfg *config.Config) *StreamingHandler {
	return &StreamingHandler{dispatcher: newDispatcher(accounts, state, cfg)}
}

// SendMessageStream dispatches a streaming request with account failover.
// Events are delivered on the first channel in upstream order; a terminal
// failure before any event arrives on the second.
func (h *StreamingHandler) SendMessageStream(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool) (<-chan *SSEEvent, <-chan error) {
	events := make(chan *SSEEvent, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		if err := h.streamWithRetry(ctx, req, fallbackEnabled, events); err != nil {
			errs <- err
		}
	}()

	return events, errs
}

func (h *StreamingHandler) streamWithRetry(ctx context.Context, req *anthropic.MessagesRequest, fallbackEnabled bool, events chan<- *SSEEvent) error {
	model := req.Model

	var permanentAuthErr error

	for attempt := 0; attempt < h.maxAttempts(); attempt++ {
		acc, decision, err := h.nextAccount(ctx, model, fallbackEnabled)
		switch decision {
		case decisionRetry:
			continue
		case decisionFallback:
			return h.streamFallback(ctx, req, events, "all accounts exhausted")
		case decisionFail:
			if permanentAuthErr != nil && !IsRateLimitError(err) && ctx.Err() == nil {
				return permanentAuthErr
			}
			return err
		}

		token, err := h.accounts.GetTokenForAccount(ctx, acc)
		if err != nil {
			utils.Warn("[CloudCode] Failed to get token for %s: %v", utils.MaskEmail(acc.Email), err)
			continue
		}
		project := h.accounts.GetProjectForAccount(ctx, acc, token)

		payloadBytes, err := json.Marshal(BuildCloudCodeRequest(req, project))
		if err != nil {
			return err
		}

		utils.Debug("[CloudCode] Starting stream for model: %s (attempt %d)", model, attempt+1)

		rc := &requestContext{attempt: attempt}
		done, err := h.runEndpointsStream(ctx, rc, acc, model, token, payloadBytes, events)
		if err != nil {
			if ctx.Err() != nil {
				h.accounts.NotifyFailure(acc, model)
			}
			return err
		}
		if done {
			return nil
		}

		if rc.lastError != nil {
			if IsPermanentAuthError(rc.lastError) {
				permanentAuthErr = rc.lastError
			}
			if err := h.handleAccountFailure(ctx, acc, model, rc.lastError); err != nil {
				return err
			}
		}
	}

	if fallbackEnabled {
		if _, ok := config.GetFallbackModel(model); ok {
			return h.streamFallback(ctx, req, events, "all retries exhausted")
		}
	}
	if permanentAuthErr != nil {
		return permanentAuthErr
	}
	return fmt.Errorf("Max retries exceeded")
}

func (h *StreamingHandler) streamFallback(ctx context.Context, req *anthropic.MessagesRequest, events chan<- *SSEEvent, reason string) error {
	fallbackModel, _ := config.GetFallbackModel(req.Model)
	utils.Warn("[CloudCode] %s for %s, attempting fallback to %s (streaming)", reason, req.Model, fallbackModel)
	fallbackRequest := *req
	fallbackRequest.Model = fallbackModel
	return h.streamWithRetry(ctx, &fallbackRequest, false, events)
}

// runEndpointsStream walks the endpoint roster for one account. Returns
// done=true when the stream finished (successfully or via the synthetic
// fallback); (false, nil) hands control back to the outer loop with
// rc.lastError classified.
func (h *StreamingHandler) runEndpointsStream(ctx context.Context, rc *requestContext, acc *redis.Account, model, token string, payloadBytes []byte, events chan<- *SSEEvent) (bool, error) {
	for rc.endpointIndex = 0; rc.endpointIndex < len(h.endpoints); {
		endpoint := h.endpoints[rc.endpointIndex]
		url := endpoint + "/v1internal:streamGenerateContent?alt=sse"

		resp, err := h.doPost(ctx, url, token, model, "text/event-stream", payloadBytes)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if utils.IsNetworkError(err) {
				utils.Warn("[CloudCode] Network error at %s: %v", endpoint, err)
				rc.lastError = err
				rc.endpointIndex++
				continue
			}
			return false, err
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			errorText := string(body)
			utils.Warn("[CloudCode] Stream error at %s: %d - %s", endpoint, resp.StatusCode,
				utils.TruncateString(errorText, 200))

			action, err := h.handleErrorStatus(ctx, rc, acc, model, resp.StatusCode, resp.Header, errorText)
			if err != nil {
				return false, err
			}
			switch action {
			case actionRetrySame:
				continue
			case actionAdvance:
				rc.endpointIndex++
				continue
			case actionNextAccount:
				return false, nil
			}
		}

		return h.streamBody(ctx, rc, acc, model, token, url, payloadBytes, resp, events)
	}

	return false, nil
}

// streamBody forwards one upstream stream, retrying empty responses with
// exponential backoff and falling back to a synthetic stream when the
// retries are exhausted.
func (h *StreamingHandler) streamBody(ctx context.Context, rc *requestContext, acc *redis.Account, model, token, url string, payloadBytes []byte, resp *http.Response, events chan<- *SSEEvent) (bool, error) {
	currentResp := resp

	for {
		sseEvents, sseErrs := StreamSSEResponse(currentResp.Body, model)

		forwarded := 0
		cancelled := false
		for event := range sseEvents {
			select {
			case events <- event:
				forwarded++
			case <-ctx.Done():
				cancelled = true
			}
			if cancelled {
				break
			}
		}
		if cancelled {
			// Release the upstream connection and let the translator drain
			currentResp.Body.Close()
			go func() {
				for range sseEvents {
				}
			}()
			return false, ctx.Err()
		}

		var streamErr error
		select {
		case streamErr = <-sseErrs:
		default:
		}

		if streamErr == nil {
			currentResp.Body.Close()
			utils.Debug("[CloudCode] Stream completed")
			h.state.ClearDedupTimestamp(model)
			h.accounts.NotifySuccess(acc, model)
			return true, nil
		}

		if IsEmptyResponseError(streamErr) {
			currentResp.Body.Close()

			if rc.emptyRetries >= config.MaxEmptyResponseRetries {
				utils.Error("[CloudCode] Empty response after %d retries", config.MaxEmptyResponseRetries)
				EmitEmptyResponseFallback(func(ev *SSEEvent) {
					select {
					case events <- ev:
					case <-ctx.Done():
					}
				}, model)
				return true, nil
			}

			backoffMs := config.EmptyResponseBackoffMs[utils.MinInt(rc.emptyRetries, len(config.EmptyResponseBackoffMs)-1)]
			utils.Warn("[CloudCode] Empty response, retry %d/%d after %dms...",
				rc.emptyRetries+1, config.MaxEmptyResponseRetries, backoffMs)
			if err := utils.Sleep(ctx, backoffMs); err != nil {
				return false, err
			}
			rc.emptyRetries++

			newResp, err := h.reissueAfterEmpty(ctx, rc, acc, model, token, url, payloadBytes)
			if err != nil {
				return false, err
			}
			if newResp == nil {
				// Classified into rc.lastError; escalate to the outer loop
				return false, nil
			}
			currentResp = newResp
			continue
		}

		currentResp.Body.Close()
		if forwarded > 0 {
			// Events already reached the client; restarting on another
			// account would duplicate output.
			return false, streamErr
		}
		rc.lastError = streamErr
		return false, nil
	}
}

// reissueAfterEmpty re-POSTs the stream after an empty response. A 429 marks
// the account and escalates; 401 splits permanent/transient; a 5xx gets one
// more try after a second.
func (h *StreamingHandler) reissueAfterEmpty(ctx context.Context, rc *requestContext, acc *redis.Account, model, token, url string, payloadBytes []byte) (*http.Response, error) {
	resp, err := h.doPost(ctx, url, token, model, "text/event-stream", payloadBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rc.lastError = err
		return nil, nil
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	errorText := string(body)
	status := resp.StatusCode
	utils.Warn("[CloudCode] Empty-response retry got %d: %s", status, utils.TruncateString(errorText, 200))

	switch {
	case status == 401:
		if IsPermanentAuthFailure(errorText) {
			h.accounts.MarkInvalid(ctx, acc.Email, "Token revoked - re-authentication required")
			rc.lastError = NewUpstreamError(KindAuthInvalidPermanent, status, 0, errorText)
			return nil, nil
		}
		h.accounts.ClearTokenCacheFor(acc.Email)
		h.accounts.ClearProjectCacheFor(acc.Email)
		rc.lastError = NewUpstreamError(KindAuthInvalid, status, 0, errorText)
		return nil, nil

	case status == 429:
		cooldownMs := ParseResetTime(resp.Header, errorText)
		if cooldownMs <= 0 {
			cooldownMs = config.DefaultCooldownMs
		}
		h.accounts.MarkRateLimited(ctx, acc.Email, cooldownMs, model)
		rc.lastError = NewUpstreamError(KindRateLimited, status, cooldownMs, errorText)
		return nil, nil

	case status >= 500:
		if err := utils.Sleep(ctx, config.ServerErrorRetryDelayMs); err != nil {
			return nil, err
		}
		retryResp, err := h.doPost(ctx, url, token, model, "text/event-stream", payloadBytes)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rc.lastError = err
			return nil, nil
		}
		if retryResp.StatusCode == http.StatusOK {
			return retryResp, nil
		}
		retryBody, _ := io.ReadAll(retryResp.Body)
		retryResp.Body.Close()
		rc.lastError = NewUpstreamError(KindAPIError, retryResp.StatusCode, 0, string(retryBody))
		return nil, nil

	default:
		rc.lastError = NewUpstreamError(KindAPIError, status, 0, errorText)
		return nil, nil
	}
}

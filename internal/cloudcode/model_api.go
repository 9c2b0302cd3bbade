package cloudcode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/redis"
)

var modelAPIClient = &http.Client{Timeout: 30 * time.Second}

// SupportedModels are the model IDs the proxy serves, in display order
var SupportedModels = []string{
	"claude-opus-4-6-thinking",
	"claude-sonnet-4-5-thinking",
	"claude-sonnet-4-5",
	"gemini-3-pro-high",
	"gemini-3-pro-low",
	"gemini-3-flash",
}

// ListModels returns the supported models in Anthropic list format
func ListModels() *anthropic.ModelsResponse {
	data := make([]anthropic.ModelInfo, 0, len(SupportedModels))
	for _, id := range SupportedModels {
		data = append(data, anthropic.ModelInfo{
			ID:          id,
			Type:        "model",
			DisplayName: id,
		})
	}
	return &anthropic.ModelsResponse{Data: data}
}

// IsSupportedModel reports whether a model ID is served by the proxy
func IsSupportedModel(modelID string) bool {
	for _, id := range SupportedModels {
		if id == modelID {
			return true
		}
	}
	return false
}

// FetchModelQuotas asks the upstream for the account's per-model quota and
// returns remaining fractions keyed by model ID. The fetchAvailableModels
// payload nests quota under each model entry; a missing remainingFraction
// with a resetTime present means the quota is spent.
func FetchModelQuotas(ctx context.Context, token, projectID string) (map[string]*redis.ModelQuotaInfo, error) {
	payload, err := json.Marshal(map[string]string{"project": projectID})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range config.AntigravityEndpointFallbacks {
		url := endpoint + "/v1internal:fetchAvailableModels"

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		for k, v := range BuildHeaders(token, "", "application/json") {
			req.Header.Set(k, v)
		}

		resp, err := modelAPIClient.Do(req)
		if err != nil {
			utils.Warn("[CloudCode] fetchAvailableModels failed at %s: %v", endpoint, err)
			lastErr = err
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			utils.Warn("[CloudCode] fetchAvailableModels error at %s: %d", endpoint, resp.StatusCode)
			lastErr = NewUpstreamError(KindAPIError, resp.StatusCode, 0, string(body))
			continue
		}

		return parseModelQuotas(body), nil
	}

	return nil, lastErr
}

func parseModelQuotas(body []byte) map[string]*redis.ModelQuotaInfo {
	quotas := make(map[string]*redis.ModelQuotaInfo)

	gjson.GetBytes(body, "models").ForEach(func(_, model gjson.Result) bool {
		modelID := model.Get("modelId").String()
		if modelID == "" {
			modelID = model.Get("name").String()
		}
		if modelID == "" {
			return true
		}

		quota := model.Get("quotaInfo")
		if !quota.Exists() {
			return true
		}

		info := &redis.ModelQuotaInfo{
			ResetTime: quota.Get("resetTime").String(),
		}
		if fraction := quota.Get("remainingFraction"); fraction.Exists() {
			info.RemainingFraction = fraction.Float()
		} else if info.ResetTime != "" {
			// Exhausted quota omits the fraction
			info.RemainingFraction = 0
		} else {
			return true
		}

		quotas[modelID] = info
		return true
	})

	return quotas
}

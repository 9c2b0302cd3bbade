// Package format converts between Anthropic Messages API shapes and the
// Google Generative AI shapes spoken by the Cloud Code backend.
package format

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

// GoogleResponse is a Cloud Code completion response. The payload is either
// wrapped in a "response" envelope or carried at the top level.
type GoogleResponse struct {
	Response      *GoogleResponseInner `json:"response,omitempty"`
	Candidates    []Candidate          `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata       `json:"usageMetadata,omitempty"`
}

// GoogleResponseInner is the wrapped response payload
type GoogleResponseInner struct {
	Candidates    []Candidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one completion candidate
type Candidate struct {
	Content      *CandidateContent `json:"content,omitempty"`
	FinishReason string            `json:"finishReason,omitempty"`
}

// CandidateContent is the content of a candidate
type CandidateContent struct {
	Parts []GooglePart `json:"parts,omitempty"`
	Role  string       `json:"role,omitempty"`
}

// UsageMetadata is the upstream token accounting
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// Unwrap returns the candidates and usage regardless of envelope shape
func (r *GoogleResponse) Unwrap() ([]Candidate, *UsageMetadata) {
	if r.Response != nil {
		return r.Response.Candidates, r.Response.UsageMetadata
	}
	return r.Candidates, r.UsageMetadata
}

// GoogleResponseFromMap decodes a generic JSON object into a GoogleResponse
func GoogleResponseFromMap(data map[string]any) *GoogleResponse {
	raw, err := json.Marshal(data)
	if err != nil {
		return &GoogleResponse{}
	}
	var response GoogleResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return &GoogleResponse{}
	}
	return &response
}

// ConvertGoogleToAnthropic converts a Google completion response to an
// Anthropic Messages response for the requested model.
func ConvertGoogleToAnthropic(googleResponse *GoogleResponse, model string) *anthropic.MessagesResponse {
	candidates, usage := googleResponse.Unwrap()

	var parts []GooglePart
	finishReason := ""
	if len(candidates) > 0 {
		finishReason = candidates[0].FinishReason
		if candidates[0].Content != nil {
			parts = candidates[0].Content.Parts
		}
	}

	content := make([]anthropic.ContentBlock, 0, len(parts))
	hasToolCalls := false

	for _, part := range parts {
		switch {
		case part.Thought:
			content = append(content, anthropic.ContentBlock{
				Type:      "thinking",
				Thinking:  part.Text,
				Signature: part.ThoughtSignature,
			})

		case part.FunctionCall != nil:
			hasToolCalls = true
			toolID := part.FunctionCall.ID
			if toolID == "" {
				toolID = "toolu_" + GenerateHexID(12)
			}
			args, _ := json.Marshal(part.FunctionCall.Args)
			content = append(content, anthropic.ContentBlock{
				Type:             "tool_use",
				ID:               toolID,
				Name:             part.FunctionCall.Name,
				Input:            args,
				ThoughtSignature: part.ThoughtSignature,
			})

		case part.InlineData != nil:
			content = append(content, anthropic.ContentBlock{
				Type: "image",
				Source: &anthropic.ImageSource{
					Type:      "base64",
					MediaType: part.InlineData.MimeType,
					Data:      part.InlineData.Data,
				},
			})

		case part.Text != "":
			content = append(content, anthropic.ContentBlock{
				Type: "text",
				Text: part.Text,
			})
		}
	}

	stopReason := MapFinishReason(finishReason)
	if hasToolCalls {
		stopReason = "tool_use"
	}

	response := &anthropic.MessagesResponse{
		ID:         "msg_" + GenerateHexID(16),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
	}

	if usage != nil {
		response.Usage = &anthropic.Usage{
			InputTokens:          usage.PromptTokenCount - usage.CachedContentTokenCount,
			OutputTokens:         usage.CandidatesTokenCount,
			CacheReadInputTokens: usage.CachedContentTokenCount,
		}
	}

	return response
}

// MapFinishReason maps Google finish reasons to Anthropic stop reasons
func MapFinishReason(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// GenerateHexID returns length random bytes hex-encoded (2×length chars)
func GenerateHexID(length int) string {
	bytes := make([]byte, length)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

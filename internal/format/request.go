// Package format converts between Anthropic Messages API shapes and the
// Google Generative AI shapes spoken by the Cloud Code backend.
package format

import (
	"encoding/json"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/config"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

// GoogleRequest is a request in Google Generative AI format
type GoogleRequest struct {
	Contents          []GoogleContent   `json:"contents"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *GoogleContent    `json:"systemInstruction,omitempty"`
	Tools             []GoogleTool      `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
}

// ToMap converts the request to a map for dynamic field injection
func (r *GoogleRequest) ToMap() map[string]any {
	data, err := json.Marshal(r)
	if err != nil {
		return map[string]any{}
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return map[string]any{}
	}
	return result
}

// GoogleContent is one content entry (a message turn or system instruction)
type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

// GooglePart is one part of a content entry
type GooglePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
}

// FunctionCall is a tool invocation in Google format
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse is a tool result in Google format
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// InlineData is base64 media content
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GenerationConfig holds sampling and output configuration
type GenerationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

// ThinkingConfig enables thought output
type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts,omitempty"`
	ThinkingBudget  int  `json:"thinkingBudget,omitempty"`
}

// GoogleTool wraps function declarations
type GoogleTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration describes one callable tool
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolConfig carries the function calling mode
type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

// FunctionCallingConfig holds the calling mode (AUTO, ANY, NONE)
type FunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"`
}

// ConvertAnthropicToGoogle converts an Anthropic Messages request to Google
// format.
func ConvertAnthropicToGoogle(req *anthropic.MessagesRequest) *GoogleRequest {
	out := &GoogleRequest{
		Contents:         make([]GoogleContent, 0, len(req.Messages)),
		GenerationConfig: &GenerationConfig{},
	}

	if parts := convertSystem(req.System); len(parts) > 0 {
		out.SystemInstruction = &GoogleContent{Parts: parts}
	}

	for _, msg := range req.Messages {
		parts := convertContentBlocks(msg.Content)
		// The upstream rejects content entries without parts
		if len(parts) == 0 {
			parts = []GooglePart{{Text: "."}}
		}
		out.Contents = append(out.Contents, GoogleContent{
			Role:  convertRole(msg.Role),
			Parts: parts,
		})
	}

	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	out.GenerationConfig.Temperature = req.Temperature
	out.GenerationConfig.TopP = req.TopP
	out.GenerationConfig.TopK = req.TopK
	out.GenerationConfig.StopSequences = req.StopSequences

	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		out.GenerationConfig.ThinkingConfig = &ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  req.Thinking.BudgetTokens,
		}
	} else if config.IsThinkingModel(req.Model) {
		out.GenerationConfig.ThinkingConfig = &ThinkingConfig{IncludeThoughts: true}
	}

	if len(req.Tools) > 0 {
		declarations := make([]FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			declarations = append(declarations, FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  SanitizeSchema(tool.InputSchema),
			})
		}
		out.Tools = []GoogleTool{{FunctionDeclarations: declarations}}
	}

	if req.ToolChoice != nil {
		out.ToolConfig = &ToolConfig{
			FunctionCallingConfig: &FunctionCallingConfig{
				Mode: convertToolChoiceMode(req.ToolChoice.Type),
			},
		}
	}

	return out
}

func convertSystem(system any) []GooglePart {
	parts := make([]GooglePart, 0)
	switch s := system.(type) {
	case string:
		if s != "" {
			parts = append(parts, GooglePart{Text: s})
		}
	case []any:
		for _, block := range s {
			blockMap, ok := block.(map[string]any)
			if !ok || blockMap["type"] != "text" {
				continue
			}
			if text, ok := blockMap["text"].(string); ok && text != "" {
				parts = append(parts, GooglePart{Text: text})
			}
		}
	}
	return parts
}

func convertRole(role string) string {
	if role == "assistant" || role == "model" {
		return "model"
	}
	return "user"
}

func convertContentBlocks(blocks []anthropic.ContentBlock) []GooglePart {
	parts := make([]GooglePart, 0, len(blocks))

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, GooglePart{Text: block.Text})
			}

		case "thinking":
			// Unsigned thinking blocks are dropped; the upstream validates
			// signatures and rejects unsigned thoughts.
			if block.Signature != "" {
				parts = append(parts, GooglePart{
					Text:             block.Thinking,
					Thought:          true,
					ThoughtSignature: block.Signature,
				})
			}

		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					utils.Debug("[Format] Unparseable tool input for %s: %v", block.Name, err)
				}
			}
			parts = append(parts, GooglePart{
				ThoughtSignature: block.ThoughtSignature,
				FunctionCall: &FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: args,
				},
			})

		case "tool_result":
			parts = append(parts, GooglePart{
				FunctionResponse: &FunctionResponse{
					ID:   block.ToolUseID,
					Name: block.ToolUseID,
					Response: map[string]any{
						"result": flattenToolResult(block.Content),
					},
				},
			})

		case "image":
			if block.Source != nil && block.Source.Type == "base64" {
				parts = append(parts, GooglePart{
					InlineData: &InlineData{
						MimeType: block.Source.MediaType,
						Data:     block.Source.Data,
					},
				})
			}
		}
	}

	return parts
}

// flattenToolResult reduces a tool result body to plain text; Cloud Code
// only accepts string results in functionResponse.
func flattenToolResult(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		text := ""
		for _, item := range c {
			if itemMap, ok := item.(map[string]any); ok {
				if t, ok := itemMap["text"].(string); ok {
					text += t
				}
			}
		}
		return text
	default:
		data, _ := json.Marshal(content)
		return string(data)
	}
}

func convertToolChoiceMode(choiceType string) string {
	switch choiceType {
	case "any", "tool":
		return "ANY"
	case "none":
		return "NONE"
	default:
		return "AUTO"
	}
}

// schemaFieldAllowlist are the JSON-schema keys the Cloud Code API accepts
var schemaFieldAllowlist = map[string]bool{
	"type": true, "format": true, "description": true, "enum": true,
	"items": true, "properties": true, "required": true, "nullable": true,
	"anyOf": true, "oneOf": true, "default": true,
	"minimum": true, "maximum": true, "minItems": true, "maxItems": true,
	"minLength": true, "maxLength": true, "pattern": true,
}

// SanitizeSchema strips JSON-schema fields the upstream rejects
// ($schema, additionalProperties, const, ...) recursively.
func SanitizeSchema(schema json.RawMessage) map[string]any {
	if len(schema) == 0 {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return nil
	}
	return sanitizeSchemaMap(parsed)
}

func sanitizeSchemaMap(schema map[string]any) map[string]any {
	result := make(map[string]any, len(schema))
	for key, value := range schema {
		if !schemaFieldAllowlist[key] {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			if key == "properties" {
				props := make(map[string]any, len(v))
				for name, prop := range v {
					if propMap, ok := prop.(map[string]any); ok {
						props[name] = sanitizeSchemaMap(propMap)
					} else {
						props[name] = prop
					}
				}
				result[key] = props
			} else {
				result[key] = sanitizeSchemaMap(v)
			}
		case []any:
			if key == "anyOf" || key == "oneOf" {
				variants := make([]any, 0, len(v))
				for _, variant := range v {
					if variantMap, ok := variant.(map[string]any); ok {
						variants = append(variants, sanitizeSchemaMap(variantMap))
					} else {
						variants = append(variants, variant)
					}
				}
				result[key] = variants
			} else {
				result[key] = v
			}
		default:
			result[key] = v
		}
	}
	return result
}

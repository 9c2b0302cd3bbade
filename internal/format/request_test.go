package format

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

func TestConvertAnthropicToGoogleBasics(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 1024,
		System:    "You are terse.",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
			{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello"}}},
		},
	}

	out := ConvertAnthropicToGoogle(req)

	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "You are terse.", out.SystemInstruction.Parts[0].Text)

	require.Len(t, out.Contents, 2)
	assert.Equal(t, "user", out.Contents[0].Role)
	assert.Equal(t, "model", out.Contents[1].Role)
	assert.Equal(t, 1024, out.GenerationConfig.MaxOutputTokens)
}

func TestConvertToolUseAndResult(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{{
				Type:  "tool_use",
				ID:    "toolu_1",
				Name:  "get_weather",
				Input: json.RawMessage(`{"city": "Berlin"}`),
			}}},
			{Role: "user", Content: []anthropic.ContentBlock{{
				Type:      "tool_result",
				ToolUseID: "toolu_1",
				Content:   "sunny",
			}}},
		},
	}

	out := ConvertAnthropicToGoogle(req)
	require.Len(t, out.Contents, 2)

	call := out.Contents[0].Parts[0].FunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, "Berlin", call.Args["city"])

	result := out.Contents[1].Parts[0].FunctionResponse
	require.NotNil(t, result)
	assert.Equal(t, "sunny", result.Response["result"])
}

func TestUnsignedThinkingBlocksAreDropped(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "claude-sonnet-4-5-thinking",
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{
				{Type: "thinking", Thinking: "unsigned"},
				{Type: "text", Text: "visible"},
			}},
		},
	}

	out := ConvertAnthropicToGoogle(req)
	require.Len(t, out.Contents, 1)
	require.Len(t, out.Contents[0].Parts, 1)
	assert.Equal(t, "visible", out.Contents[0].Parts[0].Text)
}

func TestEmptyMessageGetsPlaceholderPart(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model: "claude-sonnet-4-5",
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "thinking", Thinking: "x"}}},
		},
	}

	out := ConvertAnthropicToGoogle(req)
	require.Len(t, out.Contents[0].Parts, 1)
	assert.Equal(t, ".", out.Contents[0].Parts[0].Text)
}

func TestSanitizeSchemaStripsUnsupportedFields(t *testing.T) {
	schema := json.RawMessage(`{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"city": {"type": "string", "const": "exact", "minLength": 1}
		},
		"required": ["city"]
	}`)

	out := SanitizeSchema(schema)
	require.NotNil(t, out)

	assert.NotContains(t, out, "$schema")
	assert.NotContains(t, out, "additionalProperties")
	assert.Equal(t, "object", out["type"])
	assert.Equal(t, []any{"city"}, out["required"])

	city := out["properties"].(map[string]any)["city"].(map[string]any)
	assert.NotContains(t, city, "const")
	assert.Equal(t, "string", city["type"])
	assert.Equal(t, float64(1), city["minLength"])
}

func TestToolChoiceModes(t *testing.T) {
	cases := map[string]string{
		"auto": "AUTO",
		"any":  "ANY",
		"tool": "ANY",
		"none": "NONE",
	}
	for choiceType, mode := range cases {
		req := &anthropic.MessagesRequest{
			Model:      "claude-sonnet-4-5",
			Messages:   []anthropic.Message{{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "x"}}}},
			ToolChoice: &anthropic.ToolChoice{Type: choiceType},
		}
		out := ConvertAnthropicToGoogle(req)
		require.NotNil(t, out.ToolConfig)
		assert.Equal(t, mode, out.ToolConfig.FunctionCallingConfig.Mode)
	}
}

package cloudcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThinkingSSEAccumulates(t *testing.T) {
	body := sseBody(
		`{"response": {"candidates": [{"content": {"parts": [{"text": "let me ", "thought": true}]}}]}}`,
		`{"response": {"candidates": [{"content": {"parts": [{"text": "think", "thought": true, "thoughtSignature": "`+sigOfLen(64)+`"}]}}]}}`,
		`{"response": {"candidates": [{"content": {"parts": [{"text": "the answer "}]}}]}}`,
		`{"response": {"candidates": [{"content": {"parts": [{"text": "is 42"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 8}}}`,
	)

	resp, err := ParseThinkingSSEResponse(strings.NewReader(body), "claude-sonnet-4-5-thinking")
	require.NoError(t, err)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "let me think", resp.Content[0].Thinking)
	assert.Equal(t, sigOfLen(64), resp.Content[0].Signature)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "the answer is 42", resp.Content[1].Text)

	assert.Equal(t, "end_turn", resp.StopReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 8, resp.Usage.OutputTokens)
}

func TestParseThinkingSSEFunctionCall(t *testing.T) {
	body := sseBody(
		`{"response": {"candidates": [{"content": {"parts": [{"functionCall": {"name": "get_weather", "args": {"city": "Berlin"}}}]}, "finishReason": "STOP"}]}}`,
	)

	resp, err := ParseThinkingSSEResponse(strings.NewReader(body), "claude-sonnet-4-5-thinking")
	require.NoError(t, err)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, "tool_use", resp.Content[0].Type)
	assert.Equal(t, "get_weather", resp.Content[0].Name)
	assert.Equal(t, "tool_use", resp.StopReason)
}

func TestParseThinkingSSEEmptyStream(t *testing.T) {
	_, err := ParseThinkingSSEResponse(strings.NewReader(""), "claude-sonnet-4-5-thinking")
	require.Error(t, err)
	assert.True(t, IsEmptyResponseError(err))
}

func TestParseThinkingSSEIgnoresGarbageLines(t *testing.T) {
	body := "data: not-json\n\n" +
		": keepalive\n\n" +
		sseBody(`{"response": {"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "STOP"}]}}`)

	resp, err := ParseThinkingSSEResponse(strings.NewReader(body), "gemini-3-flash")
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "ok", resp.Content[0].Text)
}

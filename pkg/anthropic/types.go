// Package anthropic defines the Anthropic Messages API wire types served by
// the proxy.
package anthropic

import "encoding/json"

// Message is one turn in a conversation
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single block of message content. The populated fields
// depend on Type ("text", "thinking", "tool_use", "tool_result", "image").
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result; Content is a string or []ContentBlock
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Gemini passthrough on tool_use blocks
	ThoughtSignature string `json:"thoughtSignature,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// prompt caching marker, stripped before forwarding upstream
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// ImageSource is the source of an image block
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// CacheControl marks a block for prompt caching
type CacheControl struct {
	Type string `json:"type"`
}

// Tool is a tool definition
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice expresses the caller's tool selection preference
type ToolChoice struct {
	Type                   string `json:"type"`
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// ThinkingConfig enables extended thinking
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Metadata carries request tracking info
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessagesRequest is the body of POST /v1/messages. System is either a
// string or a []ContentBlock-shaped array.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Stream        bool            `json:"stream,omitempty"`
	System        any             `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// MessagesResponse is the body of a non-streaming POST /v1/messages response
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// Usage is the token accounting attached to responses
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// CountTokensRequest is the body of POST /v1/messages/count_tokens
type CountTokensRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	System   any       `json:"system,omitempty"`
	Tools    []Tool    `json:"tools,omitempty"`
}

// CountTokensResponse is the body of a count_tokens response
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// ModelInfo describes one entry of GET /v1/models
type ModelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ModelsResponse is the body of GET /v1/models
type ModelsResponse struct {
	Data    []ModelInfo `json:"data"`
	HasMore bool        `json:"has_more"`
}

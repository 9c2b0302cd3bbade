package cloudcode

import (
	"encoding/json"
	"io"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/format"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

// SSEEvent is one Anthropic-format streaming event
type SSEEvent struct {
	Type         string                      `json:"type"`
	Index        int                         `json:"index,omitempty"`
	Message      *anthropic.MessagesResponse `json:"message,omitempty"`
	ContentBlock *anthropic.ContentBlock     `json:"content_block,omitempty"`
	Delta        map[string]any              `json:"delta,omitempty"`
	Usage        *anthropic.Usage            `json:"usage,omitempty"`
}

// StreamSSEResponse translates an upstream SSE stream into Anthropic events.
// Events arrive on the first channel in upstream order and end with a single
// message_stop; a stream with no content parts reports an EmptyResponseError
// on the second channel instead.
func StreamSSEResponse(reader io.Reader, originalModel string) (<-chan *SSEEvent, <-chan error) {
	events := make(chan *SSEEvent, 100)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		messageID := "msg_" + format.GenerateHexID(16)
		hasEmittedStart := false
		blockIndex := 0
		currentBlockType := "" // "", "thinking", "text", "tool_use", "image"
		currentThinkingSignature := ""
		inputTokens := 0
		outputTokens := 0
		cacheReadTokens := 0
		stopReason := ""

		// flushSignature emits the pending thinking signature before the
		// thinking block closes.
		flushSignature := func() {
			if currentBlockType == "thinking" && currentThinkingSignature != "" {
				events <- &SSEEvent{
					Type:  "content_block_delta",
					Index: blockIndex,
					Delta: map[string]any{
						"type":      "signature_delta",
						"signature": currentThinkingSignature,
					},
				}
				currentThinkingSignature = ""
			}
		}

		closeBlock := func() {
			if currentBlockType != "" {
				flushSignature()
				events <- &SSEEvent{Type: "content_block_stop", Index: blockIndex}
				blockIndex++
				currentBlockType = ""
			}
		}

		scanner := sseScanner(reader)
		for scanner.Scan() {
			chunk := decodeSSELine(scanner.Text())
			if chunk == nil {
				continue
			}

			candidates, usage := chunk.Unwrap()
			if usage != nil {
				inputTokens = maxInt(inputTokens, usage.PromptTokenCount)
				outputTokens = maxInt(outputTokens, usage.CandidatesTokenCount)
				cacheReadTokens = maxInt(cacheReadTokens, usage.CachedContentTokenCount)
			}

			if len(candidates) == 0 {
				continue
			}

			first := candidates[0]
			if first.FinishReason != "" && stopReason == "" {
				stopReason = format.MapFinishReason(first.FinishReason)
			}
			if first.Content == nil {
				continue
			}

			parts := first.Content.Parts

			if !hasEmittedStart && len(parts) > 0 {
				hasEmittedStart = true
				events <- &SSEEvent{
					Type: "message_start",
					Message: &anthropic.MessagesResponse{
						ID:      messageID,
						Type:    "message",
						Role:    "assistant",
						Content: []anthropic.ContentBlock{},
						Model:   originalModel,
						Usage: &anthropic.Usage{
							InputTokens:          inputTokens - cacheReadTokens,
							CacheReadInputTokens: cacheReadTokens,
						},
					},
				}
			}

			for _, part := range parts {
				switch {
				case part.Thought:
					if currentBlockType != "thinking" {
						closeBlock()
						currentBlockType = "thinking"
						events <- &SSEEvent{
							Type:  "content_block_start",
							Index: blockIndex,
							ContentBlock: &anthropic.ContentBlock{
								Type:     "thinking",
								Thinking: "",
							},
						}
					}
					if part.ThoughtSignature != "" {
						currentThinkingSignature = part.ThoughtSignature
					}
					events <- &SSEEvent{
						Type:  "content_block_delta",
						Index: blockIndex,
						Delta: map[string]any{
							"type":     "thinking_delta",
							"thinking": part.Text,
						},
					}

				case part.FunctionCall != nil:
					closeBlock()
					currentBlockType = "tool_use"
					stopReason = "tool_use"

					toolID := part.FunctionCall.ID
					if toolID == "" {
						toolID = "toolu_" + format.GenerateHexID(12)
					}

					events <- &SSEEvent{
						Type:  "content_block_start",
						Index: blockIndex,
						ContentBlock: &anthropic.ContentBlock{
							Type:             "tool_use",
							ID:               toolID,
							Name:             part.FunctionCall.Name,
							ThoughtSignature: part.ThoughtSignature,
						},
					}

					argsJSON, _ := json.Marshal(part.FunctionCall.Args)
					events <- &SSEEvent{
						Type:  "content_block_delta",
						Index: blockIndex,
						Delta: map[string]any{
							"type":         "input_json_delta",
							"partial_json": string(argsJSON),
						},
					}

				case part.InlineData != nil:
					closeBlock()
					events <- &SSEEvent{
						Type:  "content_block_start",
						Index: blockIndex,
						ContentBlock: &anthropic.ContentBlock{
							Type: "image",
							Source: &anthropic.ImageSource{
								Type:      "base64",
								MediaType: part.InlineData.MimeType,
								Data:      part.InlineData.Data,
							},
						},
					}
					events <- &SSEEvent{Type: "content_block_stop", Index: blockIndex}
					blockIndex++

				case part.Text != "":
					if currentBlockType != "text" {
						closeBlock()
						currentBlockType = "text"
						events <- &SSEEvent{
							Type:  "content_block_start",
							Index: blockIndex,
							ContentBlock: &anthropic.ContentBlock{
								Type: "text",
								Text: "",
							},
						}
					}
					events <- &SSEEvent{
						Type:  "content_block_delta",
						Index: blockIndex,
						Delta: map[string]any{
							"type": "text_delta",
							"text": part.Text,
						},
					}
				}
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- err
			return
		}

		if !hasEmittedStart {
			errs <- NewEmptyResponseError("No content parts received from API")
			return
		}

		closeBlock()

		if stopReason == "" {
			stopReason = "end_turn"
		}

		events <- &SSEEvent{
			Type: "message_delta",
			Delta: map[string]any{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			Usage: &anthropic.Usage{
				OutputTokens:         outputTokens,
				CacheReadInputTokens: cacheReadTokens,
			},
		}

		events <- &SSEEvent{Type: "message_stop"}
	}()

	return events, errs
}

// EmitEmptyResponseFallback writes the synthetic stream returned when every
// empty-response retry came back blank: a full Anthropic event sequence
// carrying a placeholder text block, terminated normally.
func EmitEmptyResponseFallback(emit func(*SSEEvent), model string) {
	messageID := "msg_" + format.GenerateHexID(16)

	emit(&SSEEvent{
		Type: "message_start",
		Message: &anthropic.MessagesResponse{
			ID:      messageID,
			Type:    "message",
			Role:    "assistant",
			Content: []anthropic.ContentBlock{},
			Model:   model,
			Usage:   &anthropic.Usage{},
		},
	})

	emit(&SSEEvent{
		Type:  "content_block_start",
		Index: 0,
		ContentBlock: &anthropic.ContentBlock{
			Type: "text",
			Text: "",
		},
	})

	emit(&SSEEvent{
		Type:  "content_block_delta",
		Index: 0,
		Delta: map[string]any{
			"type": "text_delta",
			"text": "[No response after retries - please try again]",
		},
	})

	emit(&SSEEvent{Type: "content_block_stop", Index: 0})

	emit(&SSEEvent{
		Type: "message_delta",
		Delta: map[string]any{
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
		},
		Usage: &anthropic.Usage{},
	})

	emit(&SSEEvent{Type: "message_stop"})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

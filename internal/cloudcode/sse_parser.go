package cloudcode

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/vpnbeni/antigravity-claude-proxy/internal/format"
	"github.com/vpnbeni/antigravity-claude-proxy/internal/utils"
	"github.com/vpnbeni/antigravity-claude-proxy/pkg/anthropic"
)

// sseScanner wraps a reader with an SSE-sized line scanner
func sseScanner(reader io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return scanner
}

// decodeSSELine extracts the JSON payload of one "data:" line, or nil
func decodeSSELine(line string) *format.GoogleResponse {
	if !strings.HasPrefix(line, "data:") {
		return nil
	}
	jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if jsonText == "" || jsonText == "[DONE]" {
		return nil
	}

	var chunk format.GoogleResponse
	if err := json.Unmarshal([]byte(jsonText), &chunk); err != nil {
		utils.Debug("[CloudCode] SSE parse warning: %v, raw: %s", err, utils.TruncateString(jsonText, 100))
		return nil
	}
	return &chunk
}

// ParseThinkingSSEResponse reads a complete SSE stream and accumulates it
// into a single Anthropic response. Used for non-streaming requests against
// thinking models, whose plain completions endpoint drops thought parts.
func ParseThinkingSSEResponse(reader io.Reader, originalModel string) (*anthropic.MessagesResponse, error) {
	var thinkingText, thinkingSignature, plainText string
	finalParts := make([]format.GooglePart, 0)
	usage := &format.UsageMetadata{}
	finishReason := "STOP"

	flushThinking := func() {
		if thinkingText != "" {
			finalParts = append(finalParts, format.GooglePart{
				Text:             thinkingText,
				Thought:          true,
				ThoughtSignature: thinkingSignature,
			})
			thinkingText = ""
			thinkingSignature = ""
		}
	}
	flushText := func() {
		if plainText != "" {
			finalParts = append(finalParts, format.GooglePart{Text: plainText})
			plainText = ""
		}
	}

	scanner := sseScanner(reader)
	for scanner.Scan() {
		chunk := decodeSSELine(scanner.Text())
		if chunk == nil {
			continue
		}

		candidates, chunkUsage := chunk.Unwrap()
		if chunkUsage != nil {
			usage = chunkUsage
		}
		if len(candidates) == 0 {
			continue
		}

		first := candidates[0]
		if first.FinishReason != "" {
			finishReason = first.FinishReason
		}
		if first.Content == nil {
			continue
		}

		for _, part := range first.Content.Parts {
			switch {
			case part.Thought:
				flushText()
				thinkingText += part.Text
				if part.ThoughtSignature != "" {
					thinkingSignature = part.ThoughtSignature
				}
			case part.FunctionCall != nil:
				flushThinking()
				flushText()
				finalParts = append(finalParts, format.GooglePart{
					FunctionCall:     part.FunctionCall,
					ThoughtSignature: part.ThoughtSignature,
				})
			case part.InlineData != nil:
				flushThinking()
				flushText()
				finalParts = append(finalParts, format.GooglePart{InlineData: part.InlineData})
			case part.Text != "":
				flushThinking()
				plainText += part.Text
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	flushThinking()
	flushText()

	if len(finalParts) == 0 {
		return nil, NewEmptyResponseError("No content parts received from API")
	}

	accumulated := &format.GoogleResponse{
		Candidates: []format.Candidate{
			{
				Content:      &format.CandidateContent{Parts: finalParts},
				FinishReason: finishReason,
			},
		},
		UsageMetadata: usage,
	}

	return format.ConvertGoogleToAnthropic(accumulated, originalModel), nil
}

package llm

import "encoding/json"

// Usage contains completion token accounting reported by the gateway.
// stream_options.include_usage is always requested, so the final stream
// chunk carries these counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// StreamChunk is the parsed view of one upstream streaming chunk.
type StreamChunk struct {
	// Content is the text delta carried by this chunk, if any.
	Content string

	// Usage is the token accounting, present only on the final chunk.
	Usage *Usage
}

// ParseStreamChunk performs best-effort extraction of the content delta and
// usage accounting from an OpenAI-style chat.completion.chunk payload
// (choices[0].delta.content, top-level usage). Unparsable payloads yield an
// empty chunk rather than an error: the relay forwards content it recognizes
// and stays silent about the rest.
func ParseStreamChunk(data []byte) StreamChunk {
	var payload struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Usage *Usage `json:"usage"`
	}

	var chunk StreamChunk
	if err := json.Unmarshal(data, &payload); err != nil {
		return chunk
	}

	if len(payload.Choices) > 0 {
		chunk.Content = payload.Choices[0].Delta.Content
	}
	chunk.Usage = payload.Usage

	return chunk
}

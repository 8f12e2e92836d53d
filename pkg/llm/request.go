// Package llm defines the chat-stream request model shared between the
// relay's client-facing surface and its upstream gateway composer.
package llm

import "encoding/json"

// ChatStreamRequest is a chat-completion request as submitted by a UI
// collaborator (playground, console). It is immutable once dispatched:
// the relay reads it but never mutates it after the upstream call starts.
type ChatStreamRequest struct {
	// ID is the session/correlation id for the stream. If empty, the relay
	// assigns one before dispatch.
	ID string `json:"id,omitempty"`

	// Model is the model identifier (e.g. "gpt-4").
	Model string `json:"model"`

	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`

	// Metadata carries routing information supplied by the UI.
	Metadata Metadata `json:"metadata,omitempty"`

	// Settings holds generation parameters and structured-output flags.
	Settings *GenerationSettings `json:"settings,omitempty"`
}

// Message is a single conversation message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Metadata carries per-request routing details.
type Metadata struct {
	// BaseURL optionally overrides the configured gateway base URL.
	BaseURL string `json:"base_url,omitempty"`

	// ProjectID scopes the request to a platform project.
	ProjectID string `json:"project_id,omitempty"`
}

// GenerationSettings holds the sampling parameters and the structured-output
// request. Fields the relay does not interpret are preserved in Extra and
// forwarded to the gateway untouched.
type GenerationSettings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// EnableStructuredSchema requests structured output. When set without a
	// schema the gateway is asked for forced-JSON output.
	EnableStructuredSchema bool `json:"enable_structured_schema,omitempty"`

	// StructuredSchema is the user-supplied JSON schema. It may arrive as a
	// JSON object or as a string containing JSON; both are accepted.
	StructuredSchema json.RawMessage `json:"structured_schema,omitempty"`

	Extra map[string]any `json:"-"`
}

// settingsAlias avoids recursion in the custom (un)marshalling below.
type settingsAlias GenerationSettings

// knownSettingsKeys are the JSON keys the relay interprets directly.
var knownSettingsKeys = map[string]struct{}{
	"temperature":              {},
	"max_tokens":               {},
	"top_p":                    {},
	"enable_structured_schema": {},
	"structured_schema":        {},
}

// UnmarshalJSON decodes the known fields and captures everything else in
// Extra so that unrecognized gateway settings survive the round trip.
func (s *GenerationSettings) UnmarshalJSON(data []byte) error {
	var alias settingsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key := range knownSettingsKeys {
		delete(raw, key)
	}

	if len(raw) > 0 {
		alias.Extra = make(map[string]any, len(raw))
		for key, value := range raw {
			var v any
			if err := json.Unmarshal(value, &v); err != nil {
				return err
			}
			alias.Extra[key] = v
		}
	}

	*s = GenerationSettings(alias)
	return nil
}

// MarshalJSON re-inlines Extra alongside the known fields.
func (s GenerationSettings) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(settingsAlias(s))
	if err != nil {
		return nil, err
	}

	if len(s.Extra) == 0 {
		return base, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.Extra {
		if _, known := knownSettingsKeys[key]; known {
			continue
		}
		merged[key] = value
	}

	return json.Marshal(merged)
}

package llm

import (
	"encoding/json"

	"go.uber.org/zap"
)

// FormatMode selects the structured-output directive sent to the gateway.
type FormatMode string

const (
	// FormatNone requests no output constraint.
	FormatNone FormatMode = "none"

	// FormatJSONObject forces JSON output without a schema.
	FormatJSONObject FormatMode = "json_object"

	// FormatSchema constrains output to a user-supplied JSON schema.
	FormatSchema FormatMode = "schema"
)

// defaultSchemaName is used when the schema carries no title of its own.
const defaultSchemaName = "response"

// ResponseFormatSpec is the normalized structured-output directive derived
// from request settings. Built once per request; read-only afterward.
type ResponseFormatSpec struct {
	Mode        FormatMode
	Schema      map[string]any
	Name        string
	Description string
}

// BuildResponseFormat derives a ResponseFormatSpec from generation settings.
//
// A malformed schema never fails the chat request: it logs and degrades to
// FormatNone. Whether silently swallowing invalid schemas is the right
// surface for end users is an open product question; the Warn log keeps the
// degradation observable in the meantime.
func BuildResponseFormat(settings *GenerationSettings, logger *zap.Logger) ResponseFormatSpec {
	if settings == nil || !settings.EnableStructuredSchema {
		return ResponseFormatSpec{Mode: FormatNone}
	}

	raw := settings.StructuredSchema
	if isEmptyJSON(raw) {
		// Structured output requested without a schema: force JSON shape only.
		return ResponseFormatSpec{Mode: FormatJSONObject, Name: defaultSchemaName}
	}

	schema, err := parseSchema(raw)
	if err != nil {
		logger.Warn("malformed structured-output schema, degrading to unconstrained output",
			zap.Error(err),
		)
		return ResponseFormatSpec{Mode: FormatNone}
	}

	spec := ResponseFormatSpec{
		Mode:   FormatSchema,
		Schema: schema,
		Name:   defaultSchemaName,
	}
	if title, ok := schema["title"].(string); ok && title != "" {
		spec.Name = title
	}
	if desc, ok := schema["description"].(string); ok {
		spec.Description = desc
	}

	return spec
}

// parseSchema accepts the schema either as a JSON object or as a JSON string
// whose contents are themselves JSON (UIs commonly submit textarea content).
func parseSchema(raw json.RawMessage) (map[string]any, error) {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err == nil {
		return schema, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return nil, err
	}

	return schema, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", `""`, "{}":
		return true
	}
	return false
}

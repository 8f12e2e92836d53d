package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prismgate/relay/pkg/llm"
	"github.com/prismgate/relay/relay/identity"
)

// Header names on the two relay legs.
const (
	headerProjectID = "project-id"
	headerAPIKey    = "api-key"

	headerXForwardedFor = "X-Forwarded-For"
	headerXRealIP       = "X-Real-IP"

	// Diagnostic echoes of the original chain, unmodified, so any
	// downstream component beyond the immediate gateway can re-derive
	// identity without trusting intermediate rewrites.
	headerOriginalForwardedFor = "X-Original-Forwarded-For"
	headerClientResolvedIP     = "X-Client-Resolved-IP"
)

// ErrMissingCredential indicates that neither a bearer token nor an API key
// accompanied the request. Composition fails fast before any upstream call.
var ErrMissingCredential = errors.New("missing bearer token or api key")

// Credentials carries the client-supplied auth material. Bearer and APIKey
// are mutually acceptable; at least one is required.
type Credentials struct {
	// Bearer is the full Authorization header value.
	Bearer string

	// APIKey is the api-key header value.
	APIKey string
}

// Empty reports whether no credential was supplied.
func (c Credentials) Empty() bool {
	return c.Bearer == "" && c.APIKey == ""
}

// ComposeUpstreamRequest merges the chat request, client identity, response
// format directive and credentials into a fully-formed upstream HTTP request.
// The request body extends the original settings with the session id,
// mandatory usage accounting, and the optional text.format directive.
func ComposeUpstreamRequest(
	ctx context.Context,
	endpoint string,
	req *llm.ChatStreamRequest,
	ident identity.Identity,
	format llm.ResponseFormatSpec,
	creds Credentials,
) (*http.Request, error) {
	if creds.Empty() {
		return nil, ErrMissingCredential
	}

	body, err := composeBody(req, format)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	if req.Metadata.ProjectID != "" {
		httpReq.Header.Set(headerProjectID, req.Metadata.ProjectID)
	}

	// Bearer token is preferred when both credentials are present.
	if creds.Bearer != "" {
		httpReq.Header.Set("Authorization", creds.Bearer)
	} else {
		httpReq.Header.Set(headerAPIKey, creds.APIKey)
	}

	setIdentityHeaders(httpReq, ident)

	return httpReq, nil
}

// setIdentityHeaders forwards the client's network identity. The full
// forwarded chain travels verbatim; only the gateway knows which hop in it
// is the genuine public address.
func setIdentityHeaders(httpReq *http.Request, ident identity.Identity) {
	if ident.ForwardedChain != "" {
		httpReq.Header.Set(headerXForwardedFor, ident.ForwardedChain)
		httpReq.Header.Set(headerOriginalForwardedFor, ident.ForwardedChain)
	} else {
		httpReq.Header.Set(headerXForwardedFor, ident.ResolvedIP)
	}

	httpReq.Header.Set(headerXRealIP, ident.RealIPHint)
	httpReq.Header.Set(headerClientResolvedIP, ident.ResolvedIP)
}

// composeBody builds the upstream JSON body: the original settings
// (including fields the relay does not interpret), the conversation, the
// session correlation id, mandatory stream usage accounting, and the
// structured-output directive when one applies.
func composeBody(req *llm.ChatStreamRequest, format llm.ResponseFormatSpec) ([]byte, error) {
	body := map[string]any{}

	if req.Settings != nil {
		settings, err := json.Marshal(req.Settings)
		if err != nil {
			return nil, fmt.Errorf("marshalling settings: %w", err)
		}
		if err := json.Unmarshal(settings, &body); err != nil {
			return nil, fmt.Errorf("flattening settings: %w", err)
		}

		// Relay-internal structured-output flags never reach the gateway;
		// they are expressed through text.format below.
		delete(body, "enable_structured_schema")
		delete(body, "structured_schema")
	}

	body["model"] = req.Model
	body["messages"] = req.Messages
	body["stream"] = true
	body["session_id"] = req.ID

	// Usage accounting is mandatory, not optional: the metrics recorder
	// needs completion token counts from the final chunk.
	body["stream_options"] = map[string]any{"include_usage": true}

	if directive := formatDirective(format); directive != nil {
		body["text"] = map[string]any{"format": directive}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling upstream body: %w", err)
	}

	return payload, nil
}

// formatDirective translates a ResponseFormatSpec into the gateway's
// text.format directive. FormatNone yields no directive at all.
func formatDirective(format llm.ResponseFormatSpec) map[string]any {
	switch format.Mode {
	case llm.FormatJSONObject:
		return map[string]any{"type": "json_object"}
	case llm.FormatSchema:
		directive := map[string]any{
			"type":   "json_schema",
			"name":   format.Name,
			"schema": format.Schema,
		}
		if format.Description != "" {
			directive["description"] = format.Description
		}
		return directive
	default:
		return nil
	}
}

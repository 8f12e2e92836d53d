package relay

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8085")
	ListenAddr string

	// GatewayURL is the upstream inference gateway base URL
	// (e.g., "http://localhost:8000"). Requests may override it via
	// metadata.base_url.
	GatewayURL string

	// ChatPath is the chat-completions path appended to the gateway base URL.
	ChatPath string

	// DisableErrorMasking passes upstream error bodies through to the client
	// verbatim. The zero value masks them behind a generic message; enable
	// pass-through only for trusted/debug contexts.
	DisableErrorMasking bool
}

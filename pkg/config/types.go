package config

// Config represents the relay service configuration, stored as config.toml
// and overridable via RELAY_-prefixed environment variables and CLI flags.
type Config struct {
	Debug       bool              `toml:"debug" mapstructure:"debug"`
	Relay       RelayConfig       `toml:"relay" mapstructure:"relay"`
	Push        PushConfig        `toml:"push" mapstructure:"push"`
	EventStream EventStreamConfig `toml:"eventstream" mapstructure:"eventstream"`
}

// RelayConfig holds the streaming relay's server settings.
type RelayConfig struct {
	// Listen is the address the relay server binds (e.g. ":8085").
	Listen string `toml:"listen" mapstructure:"listen"`

	// GatewayURL is the upstream inference gateway base URL. Individual
	// requests may override it via metadata.base_url.
	GatewayURL string `toml:"gateway_url" mapstructure:"gateway_url"`

	// ChatPath is the chat-completions path on the gateway.
	ChatPath string `toml:"chat_path" mapstructure:"chat_path"`

	// MaskUpstreamErrors controls whether upstream error bodies are replaced
	// with a generic message before reaching the client. Disable only for
	// trusted/debug deployments.
	MaskUpstreamErrors bool `toml:"mask_upstream_errors" mapstructure:"mask_upstream_errors"`
}

// PushConfig holds the push-channel (trace subscription) client settings.
type PushConfig struct {
	// Endpoint is the websocket URL of the observability push channel.
	Endpoint string `toml:"endpoint" mapstructure:"endpoint"`

	// AuthToken authenticates the subscription. It is carried in the
	// connection's authentication payload, never as an HTTP header.
	AuthToken string `toml:"auth_token" mapstructure:"auth_token"`
}

// EventStreamConfig holds the observability export settings.
type EventStreamConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	Brokers []string `toml:"brokers" mapstructure:"brokers"`
	Topic   string   `toml:"topic" mapstructure:"topic"`
}

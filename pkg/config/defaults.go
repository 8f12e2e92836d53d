package config

// NewDefaultConfig returns the default configuration. It is the single
// source of truth for defaults; viper registration derives from it.
func NewDefaultConfig() *Config {
	return &Config{
		Debug: false,
		Relay: RelayConfig{
			Listen:             ":8085",
			GatewayURL:         "http://localhost:8000",
			ChatPath:           "/v1/chat/completions",
			MaskUpstreamErrors: true,
		},
		Push: PushConfig{
			Endpoint:  "",
			AuthToken: "",
		},
		EventStream: EventStreamConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "relay.stream.completed",
		},
	}
}

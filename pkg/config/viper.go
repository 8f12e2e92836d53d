package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrMissingGatewayURL indicates that no upstream gateway URL was configured.
var ErrMissingGatewayURL = errors.New("relay.gateway_url is required")

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if configDir is non-empty), and binds environment variables with the
// RELAY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound by the command layer)
//  2. Environment variables (RELAY_RELAY_LISTEN, RELAY_PUSH_ENDPOINT, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Optional config file discovery.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: RELAY_RELAY_GATEWAY_URL, RELAY_PUSH_AUTH_TOKEN, etc.
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load resolves the effective configuration from the given viper instance.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Validate fails fast on configuration the relay cannot run without.
// Push-channel settings are validated lazily by the tracefeed manager since
// the subscription surface is optional for a relay-only deployment.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Relay.GatewayURL) == "" {
		return ErrMissingGatewayURL
	}
	return nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("debug", d.Debug)

	// Relay
	v.SetDefault("relay.listen", d.Relay.Listen)
	v.SetDefault("relay.gateway_url", d.Relay.GatewayURL)
	v.SetDefault("relay.chat_path", d.Relay.ChatPath)
	v.SetDefault("relay.mask_upstream_errors", d.Relay.MaskUpstreamErrors)

	// Push channel
	v.SetDefault("push.endpoint", d.Push.Endpoint)
	v.SetDefault("push.auth_token", d.Push.AuthToken)

	// Event stream
	v.SetDefault("eventstream.enabled", d.EventStream.Enabled)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}

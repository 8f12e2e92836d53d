// Package servecmder provides the relayd serve command.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prismgate/relay/pkg/config"
	"github.com/prismgate/relay/pkg/eventstream"
	"github.com/prismgate/relay/pkg/eventstream/kafka"
	"github.com/prismgate/relay/pkg/eventstream/nop"
	"github.com/prismgate/relay/pkg/logger"
	"github.com/prismgate/relay/relay"
)

type serveCommander struct {
	listen             string
	gatewayURL         string
	chatPath           string
	maskUpstreamErrors bool

	eventStreamEnabled bool
	kafkaBrokers       []string
	kafkaTopic         string

	debug  bool
	logger *zap.Logger
}

const serveLongDesc string = `Run the streaming relay server.

The relay accepts chat-completion requests from web front-ends, forwards
them to the inference gateway, and re-streams responses with in-band
latency telemetry (TTFT, inter-token latency, throughput).

Completed-stream telemetry can additionally be exported to a Kafka topic
for the observability pipeline.`

const serveShortDesc string = "Run the streaming relay server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			// Flags win over config file and environment.
			if !cmd.Flags().Changed("listen") {
				cmder.listen = cfg.Relay.Listen
			}
			if !cmd.Flags().Changed("gateway") {
				cmder.gatewayURL = cfg.Relay.GatewayURL
			}
			if !cmd.Flags().Changed("chat-path") {
				cmder.chatPath = cfg.Relay.ChatPath
			}
			if !cmd.Flags().Changed("mask-upstream-errors") {
				cmder.maskUpstreamErrors = cfg.Relay.MaskUpstreamErrors
			}
			if !cmd.Flags().Changed("eventstream") {
				cmder.eventStreamEnabled = cfg.EventStream.Enabled
			}
			if !cmd.Flags().Changed("kafka-brokers") {
				cmder.kafkaBrokers = cfg.EventStream.Brokers
			}
			if !cmd.Flags().Changed("kafka-topic") {
				cmder.kafkaTopic = cfg.EventStream.Topic
			}
			if !cmd.Flags().Changed("debug") {
				cmder.debug = cfg.Debug
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("debug") {
				var err error
				cmder.debug, err = cmd.Flags().GetBool("debug")
				if err != nil {
					return fmt.Errorf("could not get debug flag: %w", err)
				}
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", defaults.Relay.Listen, "Address for the relay to listen on")
	cmd.Flags().StringVarP(&cmder.gatewayURL, "gateway", "g", defaults.Relay.GatewayURL, "Upstream inference gateway base URL")
	cmd.Flags().StringVar(&cmder.chatPath, "chat-path", defaults.Relay.ChatPath, "Chat-completions path on the gateway")
	cmd.Flags().BoolVar(&cmder.maskUpstreamErrors, "mask-upstream-errors", defaults.Relay.MaskUpstreamErrors, "Mask upstream error bodies before they reach clients")
	cmd.Flags().BoolVar(&cmder.eventStreamEnabled, "eventstream", defaults.EventStream.Enabled, "Export completed-stream telemetry to Kafka")
	cmd.Flags().StringSliceVar(&cmder.kafkaBrokers, "kafka-brokers", defaults.EventStream.Brokers, "Kafka broker addresses for telemetry export")
	cmd.Flags().StringVar(&cmder.kafkaTopic, "kafka-topic", defaults.EventStream.Topic, "Kafka topic for telemetry export")

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.New(c.debug)
	defer func() { _ = c.logger.Sync() }()

	if c.gatewayURL == "" {
		return config.ErrMissingGatewayURL
	}

	publisher := c.newPublisher()
	defer publisher.Close()

	r, err := relay.New(
		relay.Config{
			ListenAddr:          c.listen,
			GatewayURL:          c.gatewayURL,
			ChatPath:            c.chatPath,
			DisableErrorMasking: !c.maskUpstreamErrors,
		},
		publisher,
		c.logger,
	)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := r.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		// Close drains the telemetry worker pool before returning.
		return r.Close()
	}
}

func (c *serveCommander) newPublisher() eventstream.Publisher {
	if c.eventStreamEnabled {
		c.logger.Info("telemetry export enabled",
			zap.Strings("brokers", c.kafkaBrokers),
			zap.String("topic", c.kafkaTopic),
		)
		return kafka.NewPublisher(c.kafkaBrokers, c.kafkaTopic)
	}

	return nop.NewPublisher()
}

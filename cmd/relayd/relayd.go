// Package relaydcmder
package relaydcmder

import (
	"github.com/spf13/cobra"

	servecmder "github.com/prismgate/relay/cmd/relayd/serve"
	versioncmder "github.com/prismgate/relay/cmd/version"
)

const relaydLongDesc string = `Relayd is the real-time streaming relay for the platform's web front-ends.

Run the server using:
  relayd serve    Run the streaming relay server`

const relaydShortDesc string = "Relayd - LLM streaming relay"

func NewRelaydCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relayd",
		Short: relaydShortDesc,
		Long:  relaydLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}

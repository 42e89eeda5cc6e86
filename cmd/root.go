// Package cmd implements the capclaw command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped into server info, health responses and doctor output.
const Version = "0.3.0"

var configFlag string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capclaw",
		Short: "Packet-capture analysis and topology-to-config assistant",
		Long: `capclaw turns packet captures into a queryable knowledge base and
network topology diagrams into device configurations.

Captures are decoded with an external tool (tshark by default), scrubbed
of payload bytes, semantically indexed per session and answered over MCP.
Topology diagrams run through a staged multimodal pipeline (draft,
cross-review, synthesis) over the HTTP API or MCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default $CAPCLAW_CONFIG or ~/.capclaw/config.json5)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(topologyCmd())
	cmd.AddCommand(fixtureCmd())
	cmd.AddCommand(doctorCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the capclaw version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("capclaw " + Version)
		},
	}
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

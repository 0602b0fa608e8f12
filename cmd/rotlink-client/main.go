// Rotlink-client connects to a rotlink server.
//
// It provides an interactive chat, one-shot message delivery, periodic
// system reports and mDNS discovery of servers on the local network.
//
// Usage:
//
//	rotlink-client [command] [flags]
//
// See 'rotlink-client --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/rotlink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rotlink-client",
	Short: "rotlink client",
	Long: `A client for rotlink servers.

Connection settings come from the same configuration file, .env file and
environment variables as the server. Flags override them.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rotlink-client %s\n", version.Full())
	},
}

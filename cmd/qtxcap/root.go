package main

import (
	"qtxng/internal/log"

	"github.com/spf13/cobra"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "qtxcap",
	Short: "Exercise the QTX transmit-side record layer",
	Long: `qtxcap drives a qtxng.Conn directly, without a TLS stack or a peer,
so the sealing, coalescing, and TX queue behavior can be inspected or sent
over a real socket from the command line.

Traffic secrets are supplied directly (as they would be by a TLS stack via
ProvideSecret) rather than derived from a handshake.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugLogging {
			log.EnableDebugLogging()
		}
	},
}

// Execute runs the qtxcap CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "log every sealed packet and finalized datagram to stderr")
}

// Command voxflow runs the outbound call gateway and its companion
// tooling.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var debug bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voxflow",
		Short:         "Automated outbound call gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Missing .env is fine; the environment may already be set.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newValidateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

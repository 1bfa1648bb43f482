// Command antifraud classifies a stream of payments against a historical
// batch and writes one verdict file per feature.
//
// Usage:
//
//	antifraud run --batch batch_payment.txt --stream stream_payment.txt --out paymo_output
//	antifraud distance --batch batch_payment.txt 49466 6989
//	antifraud tiers
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "antifraud",
		Short:         "Trust-graph payment triage over CSV feeds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("tiers", "", "YAML tier list (default: feature1<=1, feature2<=2, feature3<=4)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("timezone", "UTC", "IANA zone the feed timestamps are written in")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(distanceCmd())
	rootCmd.AddCommand(tiersCmd())
	return rootCmd
}

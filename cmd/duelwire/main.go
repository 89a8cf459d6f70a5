package main

import (
	"fmt"
	"os"

	"github.com/danmuck/duelwire/internal/logging"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "duelwire",
	Short: "Duel protocol relay with a programmable frame pipeline",
	Long: `duelwire sits between duel clients and a duel server. Every frame in
both directions is decoded against the loaded protocol definitions and run
through the registered handlers before it is forwarded.

  duelwire init                 # write a starter relay.toml
  duelwire check --definitions data
  duelwire serve --config relay.toml
  duelwire replay --definitions data capture.cbor`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.ConfigureRuntime()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "relay.toml", "relay config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "duelwire: %v\n", err)
		os.Exit(1)
	}
}

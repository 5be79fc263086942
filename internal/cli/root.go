// Package cli provides the command-line interface for the option-chain service.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// NewRootCmd creates the root command for the CLI. Dependencies are wired
// lazily in PersistentPreRunE once flags are parsed.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "fnochain",
		Short: "Live F&O option chains from Indian broker APIs",
		Long: `fnochain assembles the nearest-expiry option chain of an NSE/BSE
underlying from live broker quotes, with implied volatility and Greeks for
every contract.

Quotes are fetched in small paced batches; batches that keep failing are
reported as partial coverage instead of failing the whole chain.

Use 'fnochain chain SBIN' for a one-off chain or 'fnochain serve' for the
HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/fno-chain)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("provider", "", "quote gateway: angelone, kite or paper")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newInstrumentsCmd(app))
	addAuthCommands(rootCmd, app)
	rootCmd.AddCommand(newGreeksCmd())

	return rootCmd
}

// standalone marks commands that need no configuration or gateway.
var standalone = map[string]bool{"version": true, "greeks": true, "price": true, "iv": true}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("fnochain v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

package cli

import (
	"github.com/spf13/cobra"
)

func newChainCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <TICKER>",
		Short: "Fetch the nearest-expiry option chain",
		Long: `Fetch the nearest-expiry option chain of an underlying: strikes around
spot with live quotes, implied volatility and Greeks for both sides.

Contracts whose quotes could not be fetched are shown with dashes and
listed in a partial coverage warning.`,
		Example: "  fnochain chain SBIN\n  fnochain chain NIFTY --json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if err := app.Refresher.EnsureLoaded(ctx); err != nil {
				return err
			}

			chain, err := app.Service.GetOptionChain(ctx, args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(chain)
			}
			RenderChain(output, chain)
			return nil
		},
	}
}

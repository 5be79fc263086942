package cli

import (
	"github.com/spf13/cobra"

	"fno-chain/internal/store"
	"fno-chain/pkg/utils"
)

func newInstrumentsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instruments",
		Short: "Manage the instrument master",
		Long:  "Download the gateway's instrument master or inspect the stored copy.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Download and store the instrument master",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			n, err := app.Refresher.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(app.Refresher.Status())
			}
			output.Success("✓ Loaded %s instruments from %s", utils.FormatQuantity(int64(n)), app.Gateway.Name())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored instrument master",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.Refresher.Warm(cmd.Context()); err != nil {
				return err
			}
			st := app.Refresher.Status()
			if output.IsJSON() {
				return output.JSON(st)
			}

			output.Bold("Instrument master (%s)", st.Provider)
			output.Printf("  Loaded:    %s\n", utils.FormatQuantity(int64(st.Loaded)))
			output.Printf("  Optioned:  %d underlyings\n", len(st.Underlyings))
			if st.Freshness == nil {
				output.Printf("  Last sync: %s\n", "not stored")
				return nil
			}
			line := "  Last sync: " + store.FormatFreshness(st.Freshness)
			if st.Freshness.IsFresh {
				output.Println(output.Green(line))
			} else {
				output.Println(output.Yellow(line))
			}
			return nil
		},
	})

	return cmd
}

package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/greeks"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// contractFlags are the Black-Scholes inputs shared by the greeks commands.
type contractFlags struct {
	spot   float64
	strike float64
	rate   float64
	typ    string
	expiry string
	days   int
}

func (f *contractFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "strike price")
	cmd.Flags().Float64Var(&f.rate, "rate", greeks.DefaultRiskFreeRate, "risk-free rate (annual, decimal)")
	cmd.Flags().StringVar(&f.typ, "type", "CE", "option type: CE or PE")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "expiry date, e.g. 29OCT2026")
	cmd.Flags().IntVar(&f.days, "days", 0, "calendar days to expiry (instead of --expiry)")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")
}

func (f *contractFlags) optionType() (models.OptionType, error) {
	switch models.OptionType(strings.ToUpper(f.typ)) {
	case models.Call:
		return models.Call, nil
	case models.Put:
		return models.Put, nil
	}
	return "", apperrors.NewValidationError("type", f.typ, "must be CE or PE")
}

// years returns the time to expiry as a year fraction.
func (f *contractFlags) years(now time.Time) (float64, error) {
	switch {
	case f.expiry != "":
		expiry, err := utils.ParseExpiry(f.expiry)
		if err != nil {
			return 0, apperrors.NewValidationError("expiry", f.expiry, "expected a date like 29OCT2026")
		}
		return utils.TimeToExpiry(expiry, now), nil
	case f.days > 0:
		return float64(f.days) / utils.DaysPerYear, nil
	}
	return 0, apperrors.NewValidationError("expiry", "", "set --expiry or --days")
}

func newGreeksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "greeks",
		Short: "Black-Scholes price and implied volatility calculator",
	}
	cmd.AddCommand(newGreeksPriceCmd())
	cmd.AddCommand(newGreeksIVCmd())
	return cmd
}

func newGreeksPriceCmd() *cobra.Command {
	var (
		f   contractFlags
		vol float64
	)

	cmd := &cobra.Command{
		Use:     "price",
		Short:   "Price an option and its Greeks at a given volatility",
		Example: "  fnochain greeks price --spot 812.45 --strike 820 --vol 0.24 --days 14",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			typ, err := f.optionType()
			if err != nil {
				return err
			}
			t, err := f.years(time.Now())
			if err != nil {
				return err
			}

			p, err := greeks.Price(f.spot, f.strike, t, vol, f.rate, typ)
			if err != nil {
				return err
			}
			g, err := greeks.Sensitivities(f.spot, f.strike, t, vol, f.rate, typ)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"price": p, "greeks": g})
			}
			output.Bold("%s %s (T = %.4fy)", FormatStrike(f.strike), typ, t)
			output.Printf("  Price:  %.2f\n", p)
			output.Printf("  %s\n", FormatGreeks(g))
			return nil
		},
	}

	f.register(cmd)
	cmd.Flags().Float64Var(&vol, "vol", 0, "annual volatility (decimal)")
	_ = cmd.MarkFlagRequired("vol")
	return cmd
}

func newGreeksIVCmd() *cobra.Command {
	var (
		f     contractFlags
		price float64
	)

	cmd := &cobra.Command{
		Use:     "iv",
		Short:   "Solve implied volatility from a premium",
		Example: "  fnochain greeks iv --spot 812.45 --strike 820 --price 11.35 --expiry 29OCT2026",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			typ, err := f.optionType()
			if err != nil {
				return err
			}
			t, err := f.years(time.Now())
			if err != nil {
				return err
			}

			g, err := greeks.Analyze(price, f.spot, f.strike, t, f.rate, typ)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(g)
			}
			output.Bold("%s %s at %.2f", FormatStrike(f.strike), typ, price)
			output.Printf("  %s\n", FormatGreeks(g))
			return nil
		},
	}

	f.register(cmd)
	cmd.Flags().Float64Var(&price, "price", 0, "option premium")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

package greeks

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
)

func TestPriceKnownValue(t *testing.T) {
	// Hull's textbook call: S=42, K=40, r=10%, sigma=20%, T=0.5.
	c, err := Price(42, 40, 0.5, 0.2, 0.1, models.Call)
	require.NoError(t, err)
	require.InDelta(t, 4.76, c, 0.01)

	p, err := Price(42, 40, 0.5, 0.2, 0.1, models.Put)
	require.NoError(t, err)
	require.InDelta(t, 0.81, p, 0.01)
}

func TestPutCallParity(t *testing.T) {
	spot, strike, tt, vol, rate := 1000.0, 1040.0, 30.0/365.0, 0.3, DefaultRiskFreeRate
	c, err := Price(spot, strike, tt, vol, rate, models.Call)
	require.NoError(t, err)
	p, err := Price(spot, strike, tt, vol, rate, models.Put)
	require.NoError(t, err)
	require.InDelta(t, spot-strike*math.Exp(-rate*tt), c-p, 1e-9)
}

func TestSensitivitiesSigns(t *testing.T) {
	call, err := Sensitivities(1000, 1000, 20.0/365.0, 0.25, DefaultRiskFreeRate, models.Call)
	require.NoError(t, err)
	put, err := Sensitivities(1000, 1000, 20.0/365.0, 0.25, DefaultRiskFreeRate, models.Put)
	require.NoError(t, err)

	require.Greater(t, call.Delta, 0.5)
	require.Less(t, put.Delta, 0.0)
	require.InDelta(t, 1.0, call.Delta-put.Delta, 1e-12)
	require.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	require.InDelta(t, call.Vega, put.Vega, 1e-12)
	require.Less(t, call.Theta, 0.0)
	require.Equal(t, 0.25, call.IV)
}

func TestDomainErrors(t *testing.T) {
	cases := []struct {
		name                  string
		spot, strike, tt, vol float64
		typ                   models.OptionType
	}{
		{"zero spot", 0, 100, 0.1, 0.2, models.Call},
		{"negative strike", 100, -5, 0.1, 0.2, models.Call},
		{"zero time", 100, 100, 0, 0.2, models.Put},
		{"zero vol", 100, 100, 0.1, 0, models.Put},
		{"nan spot", math.NaN(), 100, 0.1, 0.2, models.Call},
		{"bad type", 100, 100, 0.1, 0.2, models.OptionType("XX")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Price(tc.spot, tc.strike, tc.tt, tc.vol, 0.05, tc.typ)
			require.ErrorIs(t, err, apperrors.ErrDomain)
		})
	}

	_, err := ImpliedVolatility(0, 100, 100, 0.1, 0.05, models.Call)
	require.ErrorIs(t, err, apperrors.ErrDomain)
}

func TestImpliedVolatilityBelowIntrinsic(t *testing.T) {
	// Deep ITM call quoted under intrinsic value.
	_, err := ImpliedVolatility(40, 1000, 900, 30.0/365.0, DefaultRiskFreeRate, models.Call)
	require.Error(t, err)
	var nc *apperrors.NoConvergenceError
	require.True(t, errors.As(err, &nc))
	require.ErrorIs(t, err, apperrors.ErrNoConvergence)
}

func TestImpliedVolatilityAboveCeiling(t *testing.T) {
	_, err := ImpliedVolatility(1200, 1000, 1000, 30.0/365.0, DefaultRiskFreeRate, models.Call)
	require.ErrorIs(t, err, apperrors.ErrNoConvergence)
}

func TestAnalyzeRecoversVolatility(t *testing.T) {
	tt := 25.0 / 365.0
	p, err := Price(2450, 2500, tt, 0.32, DefaultRiskFreeRate, models.Put)
	require.NoError(t, err)

	g, err := Analyze(p, 2450, 2500, tt, DefaultRiskFreeRate, models.Put)
	require.NoError(t, err)
	require.InDelta(t, 0.32, g.IV, 1e-4)
	require.Less(t, g.Delta, 0.0)
}

// Property: for any contract and any volatility in [5%, 200%], solving the
// implied volatility of the model price reproduces that price.
func TestProperty_ImpliedVolatilityRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("price(iv(price(vol))) == price(vol)", prop.ForAll(
		func(spot, moneyness, days, vol, rate float64, isCall bool) bool {
			typ := models.Put
			if isCall {
				typ = models.Call
			}
			strike := spot * moneyness
			tt := days / 365.0

			target, err := Price(spot, strike, tt, vol, rate, typ)
			if err != nil {
				return false
			}
			// Sub-paisa premiums are below the exchange tick and carry no
			// volatility information.
			if target < 0.01 {
				return true
			}

			iv, err := ImpliedVolatility(target, spot, strike, tt, rate, typ)
			if err != nil {
				return false
			}
			repriced, err := Price(spot, strike, tt, iv, rate, typ)
			if err != nil {
				return false
			}
			return math.Abs(repriced-target) <= 1e-5*math.Max(1, target)
		},
		gen.Float64Range(50, 5000),
		gen.Float64Range(0.7, 1.3),
		gen.Float64Range(1, 365),
		gen.Float64Range(0.05, 2.0),
		gen.Float64Range(0, 0.1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

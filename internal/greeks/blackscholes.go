// Package greeks prices European options with Black-Scholes and derives
// implied volatility and sensitivities. NSE stock and index options are
// European-style. The package is pure: no I/O and no shared state.
package greeks

import (
	"math"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
)

// DefaultRiskFreeRate is the RBI repo rate used when none is configured.
const DefaultRiskFreeRate = 0.0525

func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2.0*math.Pi)
}

func d1d2(spot, strike, t, vol, rate float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*t) / (vol * sqrtT)
	return d1, d1 - vol*sqrtT
}

func positive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return apperrors.NewDomainError(field, v, "must be finite")
	}
	if v <= 0 {
		return apperrors.NewDomainError(field, v, "must be positive")
	}
	return nil
}

func validateContract(spot, strike, t, rate float64, typ models.OptionType) error {
	if err := positive("spot", spot); err != nil {
		return err
	}
	if err := positive("strike", strike); err != nil {
		return err
	}
	if err := positive("time_to_expiry", t); err != nil {
		return err
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return apperrors.NewDomainError("rate", rate, "must be finite")
	}
	if !typ.IsValid() {
		return apperrors.NewDomainError("option_type", 0, "must be CE or PE, got "+string(typ))
	}
	return nil
}

// price assumes validated inputs.
func price(spot, strike, t, vol, rate float64, typ models.OptionType) float64 {
	d1, d2 := d1d2(spot, strike, t, vol, rate)
	df := math.Exp(-rate * t)
	if typ == models.Call {
		return spot*normCDF(d1) - strike*df*normCDF(d2)
	}
	return strike*df*normCDF(-d2) - spot*normCDF(-d1)
}

// Price returns the Black-Scholes value of a European option.
func Price(spot, strike, t, vol, rate float64, typ models.OptionType) (float64, error) {
	if err := validateContract(spot, strike, t, rate, typ); err != nil {
		return 0, err
	}
	if err := positive("vol", vol); err != nil {
		return 0, err
	}
	return price(spot, strike, t, vol, rate, typ), nil
}

// Sensitivities returns delta, gamma, theta (per calendar day) and vega (per
// one volatility point). The IV field of the result is set to vol.
func Sensitivities(spot, strike, t, vol, rate float64, typ models.OptionType) (models.Greeks, error) {
	if err := validateContract(spot, strike, t, rate, typ); err != nil {
		return models.Greeks{}, err
	}
	if err := positive("vol", vol); err != nil {
		return models.Greeks{}, err
	}

	sqrtT := math.Sqrt(t)
	d1, d2 := d1d2(spot, strike, t, vol, rate)
	pdf := normPDF(d1)
	df := math.Exp(-rate * t)

	g := models.Greeks{
		IV:    vol,
		Gamma: pdf / (spot * vol * sqrtT),
		Vega:  spot * pdf * sqrtT / 100.0,
	}

	decay := -(spot * pdf * vol) / (2.0 * sqrtT)
	if typ == models.Call {
		g.Delta = normCDF(d1)
		g.Theta = (decay - rate*strike*df*normCDF(d2)) / 365.0
	} else {
		g.Delta = normCDF(d1) - 1.0
		g.Theta = (decay + rate*strike*df*normCDF(-d2)) / 365.0
	}

	for _, v := range []float64{g.Delta, g.Gamma, g.Theta, g.Vega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Greeks{}, apperrors.NewDomainError("vol", vol, "sensitivities not finite")
		}
	}
	return g, nil
}

package greeks

import (
	"math"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
)

// Solver finds the volatility that reproduces a market price.
type Solver struct {
	MinVol        float64
	MaxVol        float64
	MaxIterations int
	// Tolerance is the accepted absolute price error.
	Tolerance float64
}

// DefaultSolver searches 0.1%–500% volatility to a 1e-6 price error.
func DefaultSolver() Solver {
	return Solver{
		MinVol:        0.001,
		MaxVol:        5.0,
		MaxIterations: 100,
		Tolerance:     1e-6,
	}
}

// ImpliedVolatility solves with DefaultSolver.
func ImpliedVolatility(marketPrice, spot, strike, t, rate float64, typ models.OptionType) (float64, error) {
	return DefaultSolver().ImpliedVolatility(marketPrice, spot, strike, t, rate, typ)
}

// Analyze solves implied volatility from marketPrice and returns it together
// with the sensitivities at that volatility.
func Analyze(marketPrice, spot, strike, t, rate float64, typ models.OptionType) (models.Greeks, error) {
	iv, err := ImpliedVolatility(marketPrice, spot, strike, t, rate, typ)
	if err != nil {
		return models.Greeks{}, err
	}
	return Sensitivities(spot, strike, t, iv, rate, typ)
}

// ImpliedVolatility runs Newton-Raphson from the Brenner-Subrahmanyam
// estimate and falls back to bisection over [MinVol, MaxVol]. Prices that no
// volatility in the domain can produce fail with NoConvergenceError.
func (s Solver) ImpliedVolatility(marketPrice, spot, strike, t, rate float64, typ models.OptionType) (float64, error) {
	if err := validateContract(spot, strike, t, rate, typ); err != nil {
		return 0, err
	}
	if err := positive("market_price", marketPrice); err != nil {
		return 0, err
	}

	// No-arbitrage bounds.
	df := math.Exp(-rate * t)
	var floor, ceiling float64
	if typ == models.Call {
		floor, ceiling = math.Max(spot-strike*df, 0), spot
	} else {
		floor, ceiling = math.Max(strike*df-spot, 0), strike*df
	}
	if marketPrice < floor || marketPrice >= ceiling {
		return 0, &apperrors.NoConvergenceError{MarketPrice: marketPrice, Lower: floor, Upper: ceiling}
	}

	lowPrice := price(spot, strike, t, s.MinVol, rate, typ)
	highPrice := price(spot, strike, t, s.MaxVol, rate, typ)
	if marketPrice < lowPrice-s.Tolerance || marketPrice > highPrice+s.Tolerance {
		return 0, &apperrors.NoConvergenceError{MarketPrice: marketPrice, Lower: lowPrice, Upper: highPrice}
	}

	sigma := math.Sqrt(2.0*math.Pi/t) * (marketPrice / spot)
	sigma = math.Max(math.Min(sigma, s.MaxVol), s.MinVol)

	sqrtT := math.Sqrt(t)
	for i := 0; i < s.MaxIterations; i++ {
		diff := price(spot, strike, t, sigma, rate, typ) - marketPrice
		if math.Abs(diff) < s.Tolerance {
			return sigma, nil
		}
		d1, _ := d1d2(spot, strike, t, sigma, rate)
		vega := spot * normPDF(d1) * sqrtT
		if vega < 1e-10 || math.IsNaN(vega) {
			break
		}
		sigma -= diff / vega
		if sigma <= s.MinVol {
			sigma = s.MinVol
		} else if sigma > s.MaxVol {
			sigma = s.MaxVol
		}
	}

	return s.bisect(marketPrice, spot, strike, t, rate, typ)
}

func (s Solver) bisect(marketPrice, spot, strike, t, rate float64, typ models.OptionType) (float64, error) {
	low, high := s.MinVol, s.MaxVol
	iterations := 2 * s.MaxIterations
	mid := (low + high) / 2.0
	for i := 0; i < iterations; i++ {
		mid = (low + high) / 2.0
		p := price(spot, strike, t, mid, rate, typ)
		if math.Abs(p-marketPrice) < s.Tolerance {
			return mid, nil
		}
		if p > marketPrice {
			high = mid
		} else {
			low = mid
		}
	}

	final := price(spot, strike, t, mid, rate, typ)
	if math.Abs(final-marketPrice) <= s.Tolerance*math.Max(1, marketPrice) {
		return mid, nil
	}
	return 0, &apperrors.NoConvergenceError{
		MarketPrice: marketPrice,
		Lower:       price(spot, strike, t, s.MinVol, rate, typ),
		Upper:       price(spot, strike, t, s.MaxVol, rate, typ),
		Iterations:  s.MaxIterations + iterations,
	}
}

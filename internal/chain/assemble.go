// Package chain turns resolved instruments and their quotes into a priced
// option chain.
package chain

import (
	"errors"
	"math"
	"sort"
	"time"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/greeks"
	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// DefaultATMTieTolerance is the ATM tie band as a fraction of spot.
const DefaultATMTieTolerance = 1e-9

// Reasons recorded when a side has no Greeks.
const (
	NoGreeksQuoteFailed  = "no quote"
	NoGreeksNoTrade      = "no traded price"
	NoGreeksNoConverge   = "implied volatility did not converge"
	NoGreeksOutsideModel = "inputs outside model domain"
)

// Params are the pricing inputs shared by every row.
type Params struct {
	RiskFreeRate    float64
	ATMTieTolerance float64
	Now             time.Time
}

// Assemble builds the chain for one expiry. quotes[i] belongs to
// instruments[i]; a missing quote counts as failed. The result depends only
// on the inputs.
func Assemble(symbol string, spot float64, expiry time.Time, instruments []models.Instrument, quotes []models.Quote, p Params) *models.OptionChain {
	t := utils.TimeToExpiry(expiry, p.Now)

	rows := make(map[float64]*models.ChainRow)
	for i, inst := range instruments {
		if !inst.IsOption() {
			continue
		}
		q := models.FailedQuote(inst.Token, "missing")
		if i < len(quotes) && quotes[i].Token == inst.Token {
			q = quotes[i]
		}

		row, ok := rows[inst.Strike]
		if !ok {
			row = &models.ChainRow{Strike: inst.Strike}
			rows[inst.Strike] = row
		}
		side := priceSide(inst, q, spot, t, p.RiskFreeRate)
		if inst.OptionType == models.Call {
			row.Call = side
		} else {
			row.Put = side
		}
	}

	chain := &models.OptionChain{
		Symbol:      symbol,
		SpotPrice:   spot,
		Expiry:      expiry,
		Rows:        make([]models.ChainRow, 0, len(rows)),
		Market:      utils.GetMarketStatus(p.Now),
		GeneratedAt: p.Now,
	}
	for _, row := range rows {
		chain.Rows = append(chain.Rows, *row)
	}
	sort.Slice(chain.Rows, func(i, j int) bool { return chain.Rows[i].Strike < chain.Rows[j].Strike })

	if i := atmIndex(chain.Rows, spot, p.ATMTieTolerance); i >= 0 {
		chain.Rows[i].ATM = true
	}

	chain.Coverage = QuoteCoverage(chain)
	if !chain.Coverage.Complete() {
		chain.Warning = &models.PartialCoverageWarning{
			Total:         chain.Coverage.Total,
			Failed:        chain.Coverage.Failed,
			FailedStrikes: failedStrikes(chain.Rows),
		}
	}
	return chain
}

func priceSide(inst models.Instrument, q models.Quote, spot, t, rate float64) *models.OptionSide {
	side := &models.OptionSide{Token: inst.Token, Symbol: inst.Symbol, Quote: q}
	switch {
	case q.Failed:
		side.GreeksUnavailable = NoGreeksQuoteFailed
		return side
	case q.LTP <= 0:
		side.GreeksUnavailable = NoGreeksNoTrade
		return side
	}

	g, err := greeks.Analyze(q.LTP, spot, inst.Strike, t, rate, inst.OptionType)
	switch {
	case err == nil:
		side.Greeks = &g
	case errors.Is(err, apperrors.ErrNoConvergence):
		side.GreeksUnavailable = NoGreeksNoConverge
	default:
		side.GreeksUnavailable = NoGreeksOutsideModel
	}
	return side
}

// atmIndex returns the row whose strike is closest to spot. Distances
// within tolerance*spot of each other tie and the lowest strike wins.
// rows must be sorted ascending.
func atmIndex(rows []models.ChainRow, spot, tolerance float64) int {
	if tolerance <= 0 {
		tolerance = DefaultATMTieTolerance
	}
	band := tolerance * math.Abs(spot)

	best, bestDist := -1, math.Inf(1)
	for i, row := range rows {
		d := math.Abs(row.Strike - spot)
		if d < bestDist-band {
			best, bestDist = i, d
		}
	}
	return best
}

func failedStrikes(rows []models.ChainRow) []float64 {
	var out []float64
	for _, row := range rows {
		if (row.Call != nil && row.Call.Quote.Failed) || (row.Put != nil && row.Put.Quote.Failed) {
			out = append(out, row.Strike)
		}
	}
	return out
}

// QuoteCoverage counts contracts and failed quotes in chain.
func QuoteCoverage(chain *models.OptionChain) models.Coverage {
	var c models.Coverage
	if chain == nil {
		return c
	}
	for _, row := range chain.Rows {
		for _, side := range []*models.OptionSide{row.Call, row.Put} {
			if side == nil {
				continue
			}
			c.Total++
			if side.Quote.Failed {
				c.Failed++
			}
		}
	}
	return c
}

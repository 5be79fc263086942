package cli

import (
	"fmt"
	"strings"

	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

const missingCell = "-"

// FormatPrice formats a premium or spot price.
func FormatPrice(price float64) string {
	if price <= 0 {
		return missingCell
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatStrike drops the decimals of whole strikes.
func FormatStrike(strike float64) string {
	if strike == float64(int64(strike)) {
		return fmt.Sprintf("%d", int64(strike))
	}
	return fmt.Sprintf("%.2f", strike)
}

// FormatIV formats implied volatility as a percentage.
func FormatIV(iv float64) string {
	return fmt.Sprintf("%.2f%%", iv*100)
}

// FormatGreek formats a sensitivity to four places.
func FormatGreek(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// FormatGreeks formats option Greeks on one line.
func FormatGreeks(g models.Greeks) string {
	return fmt.Sprintf("IV: %s  Δ: %.4f  Γ: %.4f  Θ: %.4f  ν: %.4f", FormatIV(g.IV), g.Delta, g.Gamma, g.Theta, g.Vega)
}

// sideCells returns OI, volume, IV, delta and LTP for one contract. A side
// without a quote renders as dashes.
func sideCells(side *models.OptionSide) [5]string {
	cells := [5]string{missingCell, missingCell, missingCell, missingCell, missingCell}
	if side == nil || side.Quote.Failed {
		return cells
	}
	q := side.Quote
	cells[0] = utils.FormatCompactQuantity(q.OI)
	cells[1] = utils.FormatCompactQuantity(q.Volume)
	cells[4] = FormatPrice(q.LTP)
	if side.Greeks != nil {
		cells[2] = FormatIV(side.Greeks.IV)
		cells[3] = FormatGreek(side.Greeks.Delta)
	}
	return cells
}

var chainHeaders = []string{
	"OI", "VOLUME", "IV", "DELTA", "LTP",
	"STRIKE",
	"LTP", "DELTA", "IV", "VOLUME", "OI",
}

// ChainRowCells lays out one strike NSE style: calls mirrored on the left,
// puts on the right. The ATM strike carries a marker.
func ChainRowCells(row models.ChainRow) []string {
	call, put := sideCells(row.Call), sideCells(row.Put)
	strike := FormatStrike(row.Strike)
	if row.ATM {
		strike = "*" + strike
	}
	return []string{
		call[0], call[1], call[2], call[3], call[4],
		strike,
		put[4], put[3], put[2], put[1], put[0],
	}
}

// RenderChain prints the chain header, table and coverage footer.
func RenderChain(o *Output, chain *models.OptionChain) {
	o.Bold("%s  spot %s  expiry %s  market %s", chain.Symbol, utils.FormatIndianCurrency(chain.SpotPrice), utils.FormatExpiry(chain.Expiry), chain.Market)
	o.Println()

	t := NewTable(o, chainHeaders...)
	for _, row := range chain.Rows {
		cells := ChainRowCells(row)
		if row.ATM {
			for i := range cells {
				cells[i] = o.Highlight(cells[i])
			}
		}
		t.AddRow(cells...)
	}
	t.Render()
	o.Println()

	if chain.Warning != nil {
		strikes := make([]string, len(chain.Warning.FailedStrikes))
		for i, k := range chain.Warning.FailedStrikes {
			strikes[i] = FormatStrike(k)
		}
		o.Warning("%s (strikes %s)", chain.Warning.String(), strings.Join(strikes, ", "))
		return
	}
	o.Dim("%d contracts quoted", chain.Coverage.Total)
}

// Package instruments holds the instrument master and resolves tickers to
// the option contracts of a chain.
package instruments

import (
	"sort"
	"strings"
	"time"

	"fno-chain/internal/models"
	"fno-chain/pkg/utils"
)

// Key normalizes a symbol for catalog lookups: trimmed, upper case and
// without the cash-segment "-EQ" suffix.
func Key(symbol string) string {
	k := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimSuffix(k, "-EQ")
}

// Catalog is an immutable snapshot of the instrument master.
type Catalog struct {
	underlyings map[string]models.Instrument
	// underlying -> expiry day -> options
	options map[string]map[time.Time][]models.Instrument
	byToken map[string]models.Instrument // key: exchange:token
	size    int
	builtAt time.Time
}

// NewCatalog indexes instruments. The slice is not retained.
func NewCatalog(instruments []models.Instrument, builtAt time.Time) *Catalog {
	c := &Catalog{
		underlyings: make(map[string]models.Instrument),
		options:     make(map[string]map[time.Time][]models.Instrument),
		byToken:     make(map[string]models.Instrument, len(instruments)),
		size:        len(instruments),
		builtAt:     builtAt,
	}

	for _, inst := range instruments {
		c.byToken[inst.Key()] = inst

		switch inst.Kind {
		case models.KindEquity, models.KindIndex:
			for _, k := range []string{Key(inst.Underlying), Key(inst.Symbol)} {
				if k == "" {
					continue
				}
				if prev, ok := c.underlyings[k]; ok && !preferUnderlying(inst, prev) {
					continue
				}
				c.underlyings[k] = inst
			}
		case models.KindOption:
			if !inst.IsOption() || inst.Expiry.IsZero() {
				continue
			}
			k := Key(inst.Underlying)
			byExpiry, ok := c.options[k]
			if !ok {
				byExpiry = make(map[time.Time][]models.Instrument)
				c.options[k] = byExpiry
			}
			day := utils.TradingDay(inst.Expiry)
			byExpiry[day] = append(byExpiry[day], inst)
		}
	}
	return c
}

// preferUnderlying decides which of two cash instruments sharing a key is
// the underlying: NSE over BSE, then index over equity.
func preferUnderlying(candidate, current models.Instrument) bool {
	if candidate.Exchange != current.Exchange {
		return candidate.Exchange == models.NSE
	}
	return candidate.Kind == models.KindIndex && current.Kind != models.KindIndex
}

// Len returns the number of instruments in the snapshot.
func (c *Catalog) Len() int { return c.size }

// BuiltAt returns when the snapshot was built.
func (c *Catalog) BuiltAt() time.Time { return c.builtAt }

// Underlying returns the cash or index instrument for symbol.
func (c *Catalog) Underlying(symbol string) (models.Instrument, bool) {
	inst, ok := c.underlyings[Key(symbol)]
	return inst, ok
}

// Lookup returns the instrument with the given exchange and token.
func (c *Catalog) Lookup(exchange models.Exchange, token string) (models.Instrument, bool) {
	inst, ok := c.byToken[string(exchange)+":"+token]
	return inst, ok
}

// Expiries returns the option expiry days of underlying in ascending order.
func (c *Catalog) Expiries(underlying string) []time.Time {
	byExpiry := c.options[Key(underlying)]
	out := make([]time.Time, 0, len(byExpiry))
	for day := range byExpiry {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// NearestExpiry returns the earliest expiry on or after now's trading day.
func (c *Catalog) NearestExpiry(underlying string, now time.Time) (time.Time, bool) {
	today := utils.TradingDay(now)
	for _, day := range c.Expiries(underlying) {
		if !day.Before(today) {
			return day, true
		}
	}
	return time.Time{}, false
}

// Options returns the option contracts of underlying for the expiry day.
func (c *Catalog) Options(underlying string, expiry time.Time) []models.Instrument {
	opts := c.options[Key(underlying)][utils.TradingDay(expiry)]
	return append([]models.Instrument(nil), opts...)
}

// Strikes returns the distinct strikes of underlying for the expiry day in
// ascending order.
func (c *Catalog) Strikes(underlying string, expiry time.Time) []float64 {
	return distinctStrikes(c.options[Key(underlying)][utils.TradingDay(expiry)])
}

// OptionUnderlyings returns the keys of all underlyings with listed options.
func (c *Catalog) OptionUnderlyings() []string {
	out := make([]string, 0, len(c.options))
	for k := range c.options {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func distinctStrikes(opts []models.Instrument) []float64 {
	seen := make(map[float64]bool, len(opts))
	out := make([]float64, 0, len(opts)/2+1)
	for _, o := range opts {
		if !seen[o.Strike] {
			seen[o.Strike] = true
			out = append(out, o.Strike)
		}
	}
	sort.Float64s(out)
	return out
}

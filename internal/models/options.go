package models

import (
	"fmt"
	"time"
)

// OptionChain represents an assembled option chain for one expiry.
type OptionChain struct {
	Symbol      string                  `json:"symbol"`
	SpotPrice   float64                 `json:"underlying_price"`
	Expiry      time.Time               `json:"expiry"`
	Rows        []ChainRow              `json:"chain"`
	Coverage    Coverage                `json:"coverage"`
	Warning     *PartialCoverageWarning `json:"warning,omitempty"`
	Market      MarketStatus            `json:"market_status"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// ChainRow represents a single strike with both sides merged.
type ChainRow struct {
	Strike float64     `json:"strike"`
	Call   *OptionSide `json:"call,omitempty"`
	Put    *OptionSide `json:"put,omitempty"`
	ATM    bool        `json:"atm"`
}

// OptionSide represents one contract of a strike.
type OptionSide struct {
	Token  string  `json:"token"`
	Symbol string  `json:"symbol"`
	Quote  Quote   `json:"quote"`
	Greeks *Greeks `json:"greeks,omitempty"`
	// GreeksUnavailable explains why Greeks is nil.
	GreeksUnavailable string `json:"greeks_unavailable,omitempty"`
}

// Coverage counts how many contracts of a chain got a live quote.
type Coverage struct {
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// Complete reports whether every contract was quoted.
func (c Coverage) Complete() bool {
	return c.Failed == 0
}

// PartialCoverageWarning is attached to a chain when some contracts have no
// quote because their batch exhausted its retries. It is metadata, not an error.
type PartialCoverageWarning struct {
	Total         int       `json:"total"`
	Failed        int       `json:"failed"`
	FailedStrikes []float64 `json:"failed_strikes"`
}

func (w *PartialCoverageWarning) String() string {
	return fmt.Sprintf("partial coverage: %d of %d contracts without quotes", w.Failed, w.Total)
}

// ATMRow returns the at-the-money row, if any.
func (c *OptionChain) ATMRow() (ChainRow, bool) {
	for _, r := range c.Rows {
		if r.ATM {
			return r, true
		}
	}
	return ChainRow{}, false
}

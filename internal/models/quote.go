package models

import "time"

// Quote is the live market snapshot for one instrument. A quote whose batch
// could not be completed carries Failed=true and no market fields.
type Quote struct {
	Token        string    `json:"token"`
	LTP          float64   `json:"ltp"`
	Open         float64   `json:"open,omitempty"`
	High         float64   `json:"high,omitempty"`
	Low          float64   `json:"low,omitempty"`
	Close        float64   `json:"close,omitempty"`
	Volume       int64     `json:"volume"`
	OI           int64     `json:"oi"`
	LastTradeQty int64     `json:"last_trade_qty,omitempty"`
	TotalBuyQty  int64     `json:"total_buy_qty,omitempty"`
	TotalSellQty int64     `json:"total_sell_qty,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`

	Failed        bool   `json:"failed,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// FailedQuote returns a failure marker for token.
func FailedQuote(token, reason string) Quote {
	return Quote{Token: token, Failed: true, FailureReason: reason}
}

// HasPrice reports whether the quote can be used for pricing.
func (q Quote) HasPrice() bool {
	return !q.Failed && q.LTP > 0
}

// Greeks holds implied volatility and the Black-Scholes sensitivities.
// IV is a decimal (0.25 = 25%), Theta is per calendar day and Vega per one
// volatility point.
type Greeks struct {
	IV    float64 `json:"iv"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

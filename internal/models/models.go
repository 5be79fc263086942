// Package models provides domain models for the option-chain service.
package models

// Exchange represents an exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	BFO Exchange = "BFO"
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// OptionType is the side of an option contract.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// IsValid reports whether the option type is CE or PE.
func (t OptionType) IsValid() bool {
	return t == Call || t == Put
}

// InstrumentKind classifies catalog entries.
type InstrumentKind string

const (
	KindEquity InstrumentKind = "EQUITY"
	KindIndex  InstrumentKind = "INDEX"
	KindOption InstrumentKind = "OPTION"
	KindFuture InstrumentKind = "FUTURE"
	KindOther  InstrumentKind = "OTHER"
)

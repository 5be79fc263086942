package models

import "time"

// Instrument is a single tradable entry of the instrument master.
// Strike is always expressed in rupees regardless of how the provider lists it.
type Instrument struct {
	Token      string         `json:"token"`
	Symbol     string         `json:"symbol"`
	Underlying string         `json:"underlying"`
	Exchange   Exchange       `json:"exchange"`
	Kind       InstrumentKind `json:"kind"`
	InstrType  string         `json:"instrument_type,omitempty"`
	Expiry     time.Time      `json:"expiry,omitempty"`
	Strike     float64        `json:"strike,omitempty"`
	OptionType OptionType     `json:"option_type,omitempty"`
	LotSize    int            `json:"lot_size,omitempty"`
	TickSize   float64        `json:"tick_size,omitempty"`
}

// IsOption reports whether the instrument is an option contract.
func (i Instrument) IsOption() bool {
	return i.Kind == KindOption && i.OptionType.IsValid()
}

// Key returns "exchange:token".
func (i Instrument) Key() string {
	return string(i.Exchange) + ":" + i.Token
}

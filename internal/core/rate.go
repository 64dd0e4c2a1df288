package core

import (
	"fmt"
	"time"
)

// RateDigits is the fixed-point precision of exchange rates.
const RateDigits = 6

// Rate is an exchange-rate snapshot: one unit of Base is worth
// Micros/10^6 units of Quote.
type Rate struct {
	Base   Currency  `json:"base"`
	Quote  Currency  `json:"quote"`
	Micros int64     `json:"micros"`
	AsOf   time.Time `json:"as_of"`
	Source string    `json:"source,omitempty"`
}

// ParseRate parses a decimal rate such as "12800.50".
func ParseRate(base, quote Currency, s string) (Rate, error) {
	v, err := parseFixed(s, RateDigits)
	if err != nil || v <= 0 {
		return Rate{}, NewValidationError("rate", "invalid rate %q", s)
	}
	r := Rate{Base: base, Quote: quote, Micros: v}
	return r, r.Validate()
}

// Validate checks the rate is usable for conversion.
func (r Rate) Validate() error {
	if !r.Base.Valid() || !r.Quote.Valid() {
		return NewValidationError("rate", "unsupported currency pair %s/%s", r.Base, r.Quote)
	}
	if r.Base == r.Quote {
		return NewValidationError("rate", "rate base and quote are both %s", r.Base)
	}
	if r.Micros <= 0 {
		return NewValidationError("rate", "rate must be positive")
	}
	return nil
}

// Decimal formats the rate value, e.g. "12800.000000".
func (r Rate) Decimal() string {
	return formatFixed(r.Micros, RateDigits)
}

// Pair returns the "BASE/QUOTE" key of the rate.
func (r Rate) Pair() string {
	return PairKey(r.Base, r.Quote)
}

func (r Rate) String() string {
	return fmt.Sprintf("1 %s = %s %s", r.Base, r.Decimal(), r.Quote)
}

// PairKey builds the canonical "BASE/QUOTE" key.
func PairKey(base, quote Currency) string {
	return string(base) + "/" + string(quote)
}

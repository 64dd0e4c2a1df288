package currency

import (
	"context"
	"fmt"
	"strings"

	"fleetledger/internal/core"
)

// Source resolves an exchange rate for a currency pair.
type Source interface {
	Rate(ctx context.Context, base, quote core.Currency) (core.Rate, error)
}

// StaticTable is a fixed set of rates used as the last preview fallback.
// A rate answers lookups for its pair in both directions.
type StaticTable struct {
	rates map[string]core.Rate
}

// NewStaticTable builds a table from rates.
func NewStaticTable(rates ...core.Rate) *StaticTable {
	t := &StaticTable{rates: make(map[string]core.Rate, len(rates))}
	for _, r := range rates {
		r.Source = "fallback"
		t.rates[r.Pair()] = r
	}
	return t
}

// ParseStaticTable parses entries of the form "USD:UZS=12800".
func ParseStaticTable(entries []string) (*StaticTable, error) {
	var rates []core.Rate
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		pair, value, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("rate entry %q: missing '='", e)
		}
		b, q, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("rate entry %q: pair must be BASE:QUOTE", e)
		}
		base, err := core.ParseCurrency(b)
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", e, err)
		}
		quote, err := core.ParseCurrency(q)
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", e, err)
		}
		r, err := core.ParseRate(base, quote, value)
		if err != nil {
			return nil, fmt.Errorf("rate entry %q: %w", e, err)
		}
		rates = append(rates, r)
	}
	return NewStaticTable(rates...), nil
}

// Rate implements Source.
func (t *StaticTable) Rate(_ context.Context, base, quote core.Currency) (core.Rate, error) {
	if r, ok := t.rates[core.PairKey(base, quote)]; ok {
		return r, nil
	}
	if r, ok := t.rates[core.PairKey(quote, base)]; ok {
		return r, nil
	}
	return core.Rate{}, &core.ConversionError{From: base, To: quote, Reason: "no fallback rate", Err: core.ErrRateUnavailable}
}

// Len returns the number of configured rates.
func (t *StaticTable) Len() int {
	return len(t.rates)
}

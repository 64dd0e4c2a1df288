// Package currency converts money between currencies using explicit rate
// snapshots and resolves rates from a live source, a cache and a static
// fallback table.
package currency

import (
	"math/big"

	"fleetledger/internal/core"
)

var microsScale = big.NewInt(1_000_000)

// Convert converts m into currency to using rate r. The rate may be quoted
// in either direction; any other pair is a ConversionError.
func Convert(m core.Money, to core.Currency, r core.Rate) (core.Money, error) {
	if m.Currency == to {
		return m, nil
	}
	if err := r.Validate(); err != nil {
		return core.Money{}, &core.ConversionError{From: m.Currency, To: to, Reason: "invalid rate", Err: err}
	}

	amount := big.NewInt(m.AmountMinor)
	num := new(big.Int)
	den := new(big.Int)
	switch {
	case m.Currency == r.Base && to == r.Quote:
		num.Mul(amount, big.NewInt(r.Micros))
		den.Set(microsScale)
	case m.Currency == r.Quote && to == r.Base:
		num.Mul(amount, microsScale)
		den.SetInt64(r.Micros)
	default:
		return core.Money{}, &core.ConversionError{
			From:   m.Currency,
			To:     to,
			Reason: "rate " + r.Pair() + " does not cover this pair",
		}
	}

	// Align minor-unit exponents of the two currencies.
	shift := to.MinorDigits() - m.Currency.MinorDigits()
	if shift > 0 {
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil))
	} else if shift < 0 {
		den.Mul(den, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil))
	}

	q := divRound(num, den)
	if q.CmpAbs(big.NewInt(core.MaxAmountMinor)) > 0 {
		return core.Money{}, &core.ConversionError{From: m.Currency, To: to, Reason: "converted amount exceeds the maximum amount"}
	}
	return core.NewMoney(q.Int64(), to), nil
}

// divRound divides rounding half away from zero. den must be positive.
func divRound(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	twice := new(big.Int).Abs(r)
	twice.Lsh(twice, 1)
	if twice.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

// ConvertAggregates converts every monetary figure of a into currency to.
// Payment status is carried over unchanged.
func ConvertAggregates(a core.Aggregates, to core.Currency, r core.Rate) (core.Aggregates, error) {
	out := a
	fields := []*core.Money{
		&out.TotalPayment,
		&out.TotalGivenBudget,
		&out.TotalIncome,
		&out.TotalExpenses,
		&out.LightExpenses,
		&out.HeavyExpenses,
		&out.NetProfit,
		&out.DriverProfitAmount,
		&out.DriverOwes,
		&out.BusinessNet,
		&out.DriverPaidAmount,
		&out.DriverRemainingDebt,
	}
	for _, f := range fields {
		converted, err := Convert(*f, to, r)
		if err != nil {
			return core.Aggregates{}, err
		}
		*f = converted
	}
	return out, nil
}

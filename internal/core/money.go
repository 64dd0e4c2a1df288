// Package core provides the domain types shared by the ledger engine.
//
// This file contains the tagged Money value and functions for parsing
// monetary amounts from strings into minor units.
package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Currency is an ISO 4217 currency code.
type Currency string

const (
	UZS Currency = "UZS"
	USD Currency = "USD"
	EUR Currency = "EUR"
	RUB Currency = "RUB"
	KZT Currency = "KZT"
)

// minorDigits holds the number of fractional digits for every supported currency.
var minorDigits = map[Currency]int{
	UZS: 2,
	USD: 2,
	EUR: 2,
	RUB: 2,
	KZT: 2,
}

// ParseCurrency normalises and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", NewValidationError("currency", "unsupported currency %q", s)
	}
	return c, nil
}

// Valid reports whether the currency is supported.
func (c Currency) Valid() bool {
	_, ok := minorDigits[c]
	return ok
}

// MinorDigits returns the number of fractional digits of the currency.
func (c Currency) MinorDigits() int {
	return minorDigits[c]
}

func (c Currency) String() string {
	return string(c)
}

// MaxAmountMinor is the largest magnitude accepted for a single amount at
// entry: 10 trillion in major units. Sums of thousands of such amounts
// still fit in an int64.
const MaxAmountMinor int64 = 1_000_000_000_000_000

// Money is an amount in minor units tagged with its currency.
// Arithmetic between different currencies, or arithmetic that overflows
// int64, is a programming error and panics; conversions go through the
// currency package.
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// NewMoney creates a Money value.
func NewMoney(amountMinor int64, c Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: c}
}

// Zero returns a zero amount in the given currency.
func Zero(c Currency) Money {
	return Money{Currency: c}
}

func (m Money) mustMatch(o Money, op string) {
	if m.Currency != o.Currency {
		panic(fmt.Sprintf("money: %s with mismatched currencies %s and %s", op, m.Currency, o.Currency))
	}
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	m.mustMatch(o, "add")
	sum := m.AmountMinor + o.AmountMinor
	if (o.AmountMinor > 0 && sum < m.AmountMinor) || (o.AmountMinor < 0 && sum > m.AmountMinor) {
		panic(fmt.Sprintf("money: add overflows: %d + %d", m.AmountMinor, o.AmountMinor))
	}
	return Money{AmountMinor: sum, Currency: m.Currency}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o, "sub")
	diff := m.AmountMinor - o.AmountMinor
	if (o.AmountMinor > 0 && diff > m.AmountMinor) || (o.AmountMinor < 0 && diff < m.AmountMinor) {
		panic(fmt.Sprintf("money: sub overflows: %d - %d", m.AmountMinor, o.AmountMinor))
	}
	return Money{AmountMinor: diff, Currency: m.Currency}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{AmountMinor: -m.AmountMinor, Currency: m.Currency}
}

// FloorZero returns m, or zero if m is negative.
func (m Money) FloorZero() Money {
	if m.AmountMinor < 0 {
		return Zero(m.Currency)
	}
	return m
}

func (m Money) IsZero() bool { return m.AmountMinor == 0 }
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }
func (m Money) IsNegative() bool { return m.AmountMinor < 0 }

// GreaterThan reports whether m > o.
func (m Money) GreaterThan(o Money) bool {
	m.mustMatch(o, "compare")
	return m.AmountMinor > o.AmountMinor
}

// Validate checks that the amount is positive, within MaxAmountMinor and in
// a supported currency.
func (m Money) Validate() error {
	if !m.Currency.Valid() {
		return NewValidationError("currency", "unsupported currency %q", string(m.Currency))
	}
	if m.AmountMinor <= 0 {
		return NewValidationError("amount", "amount must be positive, got %d", m.AmountMinor)
	}
	if m.AmountMinor > MaxAmountMinor {
		return NewValidationError("amount", "amount %d exceeds the maximum of %d", m.AmountMinor, MaxAmountMinor)
	}
	return nil
}

// ValidateNonNegative checks that the amount is zero or positive.
func (m Money) ValidateNonNegative(field string) error {
	if !m.Currency.Valid() {
		return NewValidationError(field, "unsupported currency %q", string(m.Currency))
	}
	if m.AmountMinor < 0 {
		return NewValidationError(field, "amount must not be negative, got %d", m.AmountMinor)
	}
	if m.AmountMinor > MaxAmountMinor {
		return NewValidationError(field, "amount %d exceeds the maximum of %d", m.AmountMinor, MaxAmountMinor)
	}
	return nil
}

// Decimal formats the amount in major units, e.g. "1234.56".
func (m Money) Decimal() string {
	return formatFixed(m.AmountMinor, m.Currency.MinorDigits())
}

func (m Money) String() string {
	return m.Decimal() + " " + string(m.Currency)
}

// Sum adds up amounts in currency c.
func Sum(c Currency, ms ...Money) Money {
	total := Zero(c)
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// ParseMoney parses a positive decimal string such as "12.34" or "12,34"
// into a Money value of currency c, rounding half-up beyond the currency's
// minor digits.
func ParseMoney(s string, c Currency) (Money, error) {
	if !c.Valid() {
		return Money{}, NewValidationError("currency", "unsupported currency %q", string(c))
	}
	v, err := parseFixed(s, c.MinorDigits())
	if err != nil {
		return Money{}, NewValidationError("amount", "invalid amount %q", s)
	}
	if v <= 0 {
		return Money{}, NewValidationError("amount", "amount must be positive")
	}
	return NewMoney(v, c), nil
}

// parseFixed converts a non-negative decimal string into an integer scaled by
// 10^digits. Both dot and comma separators are accepted; the digit after the
// last kept one is rounded half-up.
func parseFixed(s string, digits int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	scale := pow10(digits)
	if iv > (1<<63-1)/scale-1 {
		return 0, ErrInvalidAmount
	}
	var frac int64
	for i := 0; i < digits; i++ {
		frac *= 10
		if i < len(fracPart) {
			frac += int64(fracPart[i] - '0')
		}
	}
	if len(fracPart) > digits && fracPart[digits] >= '5' {
		frac++
	}
	return iv*scale + frac, nil
}

func formatFixed(v int64, digits int) string {
	neg := v < 0
	if neg {
		v = -v
	}
	scale := pow10(digits)
	s := strconv.FormatInt(v/scale, 10)
	if digits > 0 {
		s += "." + fmt.Sprintf("%0*d", digits, v%scale)
	}
	if neg {
		return "-" + s
	}
	return s
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

package core

import (
	"errors"
	"testing"
	"time"
)

func TestTripValidate(t *testing.T) {
	good := Trip{DriverID: "d1", FlightType: Domestic, Currency: UZS, DriverProfitPercent: 20}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	intl := good
	intl.FlightType = International
	intl.SecondaryCurrency = USD
	if err := intl.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := map[string]Trip{
		"no driver":           {FlightType: Domestic, Currency: UZS},
		"bad flight type":     {DriverID: "d1", FlightType: "orbital", Currency: UZS},
		"bad currency":        {DriverID: "d1", FlightType: Domestic, Currency: "XXX"},
		"percent over 100":    {DriverID: "d1", FlightType: Domestic, Currency: UZS, DriverProfitPercent: 101},
		"negative percent":    {DriverID: "d1", FlightType: Domestic, Currency: UZS, DriverProfitPercent: -1},
		"intl no secondary":   {DriverID: "d1", FlightType: International, Currency: UZS},
		"intl same secondary": {DriverID: "d1", FlightType: International, Currency: UZS, SecondaryCurrency: UZS},
	}
	for name, trip := range bads {
		t.Run(name, func(t *testing.T) {
			if err := trip.Validate(); !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLegValidate(t *testing.T) {
	good := Leg{FromCity: "Tashkent", ToCity: "Samarkand", Payment: NewMoney(100, UZS), GivenBudget: Zero(UZS)}
	if err := good.Validate(UZS); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Leg{
		{FromCity: "", ToCity: "B", Payment: Zero(UZS), GivenBudget: Zero(UZS)},
		{FromCity: "A", ToCity: " ", Payment: Zero(UZS), GivenBudget: Zero(UZS)},
		{FromCity: "A", ToCity: "B", Payment: NewMoney(-1, UZS), GivenBudget: Zero(UZS)},
		{FromCity: "A", ToCity: "B", Payment: Zero(UZS), GivenBudget: NewMoney(-5, UZS)},
		{FromCity: "A", ToCity: "B", Payment: Zero(USD), GivenBudget: Zero(UZS)},
		{FromCity: "A", ToCity: "B", Payment: NewMoney(MaxAmountMinor+1, UZS), GivenBudget: Zero(UZS)},
	}
	for i, l := range bads {
		if err := l.Validate(UZS); !IsValidation(err) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestExpenseValidate(t *testing.T) {
	idx := 0
	good := Expense{Type: ExpenseFuel, Amount: NewMoney(100, UZS), Timing: TimingDuring, LegIndex: &idx}
	if err := good.Validate(UZS); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	neg := -1
	bads := []Expense{
		{Type: ExpenseFuel, Amount: NewMoney(0, UZS), Timing: TimingDuring},
		{Type: ExpenseFuel, Amount: NewMoney(-10, UZS), Timing: TimingDuring},
		{Type: ExpenseFuel, Amount: NewMoney(10, USD), Timing: TimingDuring},
		{Type: ExpenseFuel, Amount: NewMoney(10, UZS), Timing: "later"},
		{Type: ExpenseFuel, Amount: NewMoney(10, UZS), Timing: TimingAfter, LegIndex: &neg},
	}
	for i, e := range bads {
		if err := e.Validate(UZS); !IsValidation(err) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestDebtApplicationKey(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("UZT", 5*3600))
	got := DebtApplicationKey("trip-1", at)
	if got != "trip-1@2025-03-01T05:00:00Z" {
		t.Fatalf("key = %s", got)
	}
}

func TestErrorPredicates(t *testing.T) {
	state := NewStateError(InvariantLegsCompleted, "2 of 5 legs not completed")
	if !IsState(state) || IsValidation(state) {
		t.Fatal("state error misclassified")
	}
	if state.Error() != "2 of 5 legs not completed" {
		t.Fatalf("message = %q", state.Error())
	}

	wrapped := &StateError{Invariant: InvariantVersion, Message: "stale", Err: ErrVersionConflict}
	if !errors.Is(wrapped, ErrVersionConflict) {
		t.Fatal("StateError should unwrap to its sentinel")
	}

	conv := &ConversionError{From: UZS, To: USD, Err: ErrRateUnavailable}
	if !IsConversion(conv) || !errors.Is(conv, ErrRateUnavailable) {
		t.Fatal("conversion error misclassified")
	}

	if !IsNotFound(errors.Join(ErrTripNotFound)) || IsNotFound(ErrVersionConflict) {
		t.Fatal("not found predicate mismatch")
	}
}

func TestTripClone(t *testing.T) {
	orig := Trip{Legs: []Leg{{Index: 0, FromCity: "A"}}, ExchangeRateAtClose: &Rate{Micros: 1}}
	c := orig.Clone()
	c.Legs[0].FromCity = "B"
	c.ExchangeRateAtClose.Micros = 2
	if orig.Legs[0].FromCity != "A" || orig.ExchangeRateAtClose.Micros != 1 {
		t.Fatal("clone aliases original")
	}
}

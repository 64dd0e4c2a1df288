package core

import (
	"strings"
	"time"
)

type (
	TripStatus    string
	FlightType    string
	LegStatus     string
	ExpenseType   string
	ExpenseClass  string
	ExpenseTiming string
	PaymentStatus string
)

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"

	Domestic      FlightType = "domestic"
	International FlightType = "international"

	LegPending   LegStatus = "pending"
	LegCompleted LegStatus = "completed"

	ClassLight ExpenseClass = "light"
	ClassHeavy ExpenseClass = "heavy"

	TimingBefore ExpenseTiming = "before"
	TimingDuring ExpenseTiming = "during"
	TimingAfter  ExpenseTiming = "after"

	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

const (
	ExpenseFuel        ExpenseType = "fuel"
	ExpenseFood        ExpenseType = "food"
	ExpenseLodging     ExpenseType = "lodging"
	ExpenseParking     ExpenseType = "parking"
	ExpenseToll        ExpenseType = "toll"
	ExpenseRepairMinor ExpenseType = "repair_minor"
	ExpenseWashing     ExpenseType = "washing"
	ExpenseFine        ExpenseType = "fine"
	ExpenseLoading     ExpenseType = "loading"
	ExpenseCustoms     ExpenseType = "customs"
	ExpenseOther       ExpenseType = "other"
	ExpenseRepairMajor ExpenseType = "repair_major"
	ExpenseTire        ExpenseType = "tire"
	ExpenseAccident    ExpenseType = "accident"
	ExpenseInsurance   ExpenseType = "insurance"
	ExpenseOil         ExpenseType = "oil"
)

type (
	// Leg is one ordered segment of a trip. The balance fields are derived
	// and overwritten on every recompute.
	Leg struct {
		Index           int        `json:"index"`
		FromCity        string     `json:"from_city"`
		ToCity          string     `json:"to_city"`
		Payment         Money      `json:"payment"`
		GivenBudget     Money      `json:"given_budget"`
		PreviousBalance Money      `json:"previous_balance"`
		TotalBudget     Money      `json:"total_budget"`
		SpentAmount     Money      `json:"spent_amount"`
		Balance         Money      `json:"balance"`
		Status          LegStatus  `json:"status"`
		CompletedAt     *time.Time `json:"completed_at,omitempty"`
	}

	Expense struct {
		ID     string      `json:"id"`
		Type   ExpenseType `json:"type"`
		Amount Money       `json:"amount"`
		// OriginalAmount is set when the expense was entered in another
		// currency and converted into the trip currency.
		OriginalAmount *Money        `json:"original_amount,omitempty"`
		LegIndex       *int          `json:"leg_index,omitempty"`
		Timing         ExpenseTiming `json:"timing"`
		Note           string        `json:"note,omitempty"`
		CreatedAt      time.Time     `json:"created_at"`
	}

	Payment struct {
		ID       string    `json:"id"`
		TripID   string    `json:"trip_id"`
		DriverID string    `json:"driver_id"`
		Amount   Money     `json:"amount"`
		PaidAt   time.Time `json:"paid_at"`
		Note     string    `json:"note,omitempty"`
	}

	// Aggregates are the derived trip figures. They are a pure function of
	// the trip's legs, expenses, profit percent, status and payments.
	Aggregates struct {
		TotalPayment        Money         `json:"total_payment"`
		TotalGivenBudget    Money         `json:"total_given_budget"`
		TotalIncome         Money         `json:"total_income"`
		TotalExpenses       Money         `json:"total_expenses"`
		LightExpenses       Money         `json:"light_expenses"`
		HeavyExpenses       Money         `json:"heavy_expenses"`
		NetProfit           Money         `json:"net_profit"`
		DriverProfitAmount  Money         `json:"driver_profit_amount"`
		DriverOwes          Money         `json:"driver_owes"`
		BusinessNet         Money         `json:"business_net"`
		DriverPaidAmount    Money         `json:"driver_paid_amount"`
		DriverRemainingDebt Money         `json:"driver_remaining_debt"`
		DriverPaymentStatus PaymentStatus `json:"driver_payment_status"`
	}

	Trip struct {
		ID                  string     `json:"id"`
		DriverID            string     `json:"driver_id"`
		Status              TripStatus `json:"status"`
		FlightType          FlightType `json:"flight_type"`
		Currency            Currency   `json:"currency"`
		SecondaryCurrency   Currency   `json:"secondary_currency,omitempty"`
		DriverProfitPercent int64      `json:"driver_profit_percent"`
		Legs                []Leg      `json:"legs"`
		Expenses            []Expense  `json:"expenses"`
		Payments            []Payment  `json:"driver_payments"`
		Aggregates          Aggregates `json:"aggregates"`
		ExchangeRateAtClose *Rate      `json:"exchange_rate_at_close,omitempty"`
		Version             int64      `json:"version"`
		CreatedAt           time.Time  `json:"created_at"`
		CompletedAt         *time.Time `json:"completed_at,omitempty"`
		CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
		CancelReason        string     `json:"cancel_reason,omitempty"`
	}

	DriverAccount struct {
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		Currency       Currency  `json:"currency"`
		PreviousDebt   Money     `json:"previous_debt"`
		CurrentBalance Money     `json:"current_balance"`
		Busy           bool      `json:"busy"`
		CreatedAt      time.Time `json:"created_at"`
		UpdatedAt      time.Time `json:"updated_at"`
	}

	// DebtApplication records that a completed trip's liability was merged
	// into the driver account. Key is unique per completion.
	DebtApplication struct {
		Key       string    `json:"key"`
		TripID    string    `json:"trip_id"`
		DriverID  string    `json:"driver_id"`
		Debt      Money     `json:"debt"`
		Credit    Money     `json:"credit"`
		AppliedAt time.Time `json:"applied_at"`
	}
)

// DebtApplicationKey builds the idempotency key of a trip completion.
func DebtApplicationKey(tripID string, completedAt time.Time) string {
	return tripID + "@" + completedAt.UTC().Format(time.RFC3339Nano)
}

func (s TripStatus) Valid() bool {
	switch s {
	case TripActive, TripCompleted, TripCancelled:
		return true
	}
	return false
}

func (f FlightType) Valid() bool {
	return f == Domestic || f == International
}

func (t ExpenseTiming) Valid() bool {
	switch t {
	case TimingBefore, TimingDuring, TimingAfter:
		return true
	}
	return false
}

// Validate checks the caller-supplied fields of a leg.
func (l Leg) Validate(c Currency) error {
	if strings.TrimSpace(l.FromCity) == "" {
		return NewValidationError("from_city", "leg %d has no origin city", l.Index)
	}
	if strings.TrimSpace(l.ToCity) == "" {
		return NewValidationError("to_city", "leg %d has no destination city", l.Index)
	}
	if err := l.Payment.ValidateNonNegative("payment"); err != nil {
		return err
	}
	if err := l.GivenBudget.ValidateNonNegative("given_budget"); err != nil {
		return err
	}
	if l.Payment.Currency != c || l.GivenBudget.Currency != c {
		return NewValidationError("currency", "leg %d amounts must be in trip currency %s", l.Index, c)
	}
	return nil
}

// Validate checks the caller-supplied fields of an expense, except its type,
// which the classifier owns.
func (e Expense) Validate(c Currency) error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if e.Amount.Currency != c {
		return NewValidationError("currency", "expense currency %s does not match trip currency %s", e.Amount.Currency, c)
	}
	if !e.Timing.Valid() {
		return NewValidationError("timing", "unknown timing %q", string(e.Timing))
	}
	if e.LegIndex != nil && *e.LegIndex < 0 {
		return NewValidationError("leg_index", "leg index must not be negative")
	}
	if len(e.Note) > 200 {
		return NewValidationError("note", "note too long (max 200 characters)")
	}
	return nil
}

// Validate checks the configuration fields of a new trip.
func (t Trip) Validate() error {
	if strings.TrimSpace(t.DriverID) == "" {
		return NewValidationError("driver_id", "driver is required")
	}
	if !t.FlightType.Valid() {
		return NewValidationError("flight_type", "unknown flight type %q", string(t.FlightType))
	}
	if !t.Currency.Valid() {
		return NewValidationError("currency", "unsupported currency %q", string(t.Currency))
	}
	if t.DriverProfitPercent < 0 || t.DriverProfitPercent > 100 {
		return NewValidationError("driver_profit_percent", "must be between 0 and 100, got %d", t.DriverProfitPercent)
	}
	if t.FlightType == International {
		if !t.SecondaryCurrency.Valid() {
			return NewValidationError("secondary_currency", "international trips need a secondary currency")
		}
		if t.SecondaryCurrency == t.Currency {
			return NewValidationError("secondary_currency", "secondary currency must differ from %s", t.Currency)
		}
	}
	return nil
}

// CompletedLegs counts legs marked completed.
func (t Trip) CompletedLegs() int {
	n := 0
	for _, l := range t.Legs {
		if l.Status == LegCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t Trip) Clone() Trip {
	c := t
	c.Legs = append([]Leg(nil), t.Legs...)
	c.Expenses = append([]Expense(nil), t.Expenses...)
	c.Payments = append([]Payment(nil), t.Payments...)
	if t.ExchangeRateAtClose != nil {
		r := *t.ExchangeRateAtClose
		c.ExchangeRateAtClose = &r
	}
	return c
}

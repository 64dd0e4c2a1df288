package ledger

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"fleetledger/internal/core"
)

func uzs(v int64) core.Money { return core.NewMoney(v, core.UZS) }

func intp(i int) *int { return &i }

func expense(t core.ExpenseType, amount int64, leg *int) core.Expense {
	return core.Expense{Type: t, Amount: uzs(amount), LegIndex: leg, Timing: core.TimingDuring}
}

func TestRecomputeLegsCarryForward(t *testing.T) {
	legs := []core.Leg{
		{FromCity: "Tashkent", ToCity: "Samarkand", Payment: uzs(0), GivenBudget: uzs(500000)},
		{FromCity: "Samarkand", ToCity: "Bukhara", Payment: uzs(0), GivenBudget: uzs(300000)},
	}
	expenses := []core.Expense{
		expense(core.ExpenseFuel, 150000, intp(0)),
		expense(core.ExpenseFood, 50000, intp(0)),
		expense(core.ExpenseFuel, 100000, intp(1)),
	}

	got := RecomputeLegs(core.UZS, legs, expenses)

	if got[0].Balance != uzs(300000) {
		t.Errorf("leg0.balance = %v, want 300000", got[0].Balance)
	}
	if got[1].PreviousBalance != uzs(300000) {
		t.Errorf("leg1.previousBalance = %v, want 300000", got[1].PreviousBalance)
	}
	if got[1].TotalBudget != uzs(600000) {
		t.Errorf("leg1.totalBudget = %v, want 600000", got[1].TotalBudget)
	}
	if got[1].Balance != uzs(500000) {
		t.Errorf("leg1.balance = %v, want 500000", got[1].Balance)
	}
	if legs[0].Balance.Currency != "" {
		t.Error("input legs were mutated")
	}
}

func TestRecomputeLegsNegativeBalancePropagates(t *testing.T) {
	legs := []core.Leg{
		{FromCity: "A", ToCity: "B", Payment: uzs(0), GivenBudget: uzs(100)},
		{FromCity: "B", ToCity: "C", Payment: uzs(0), GivenBudget: uzs(50)},
	}
	expenses := []core.Expense{expense(core.ExpenseFuel, 300, intp(0))}

	got := RecomputeLegs(core.UZS, legs, expenses)
	if got[0].Balance != uzs(-200) {
		t.Fatalf("leg0.balance = %v, want -200", got[0].Balance)
	}
	if got[1].PreviousBalance != uzs(-200) || got[1].Balance != uzs(-150) {
		t.Fatalf("leg1 = %+v", got[1])
	}
}

func TestRecomputeIgnoresStoredAggregates(t *testing.T) {
	legs := []core.Leg{{
		FromCity: "A", ToCity: "B", Payment: uzs(0), GivenBudget: uzs(100),
		PreviousBalance: uzs(999), TotalBudget: uzs(999), SpentAmount: uzs(999), Balance: uzs(999),
	}}
	got := RecomputeLegs(core.UZS, legs, nil)
	if got[0].PreviousBalance != uzs(0) || got[0].Balance != uzs(100) {
		t.Fatalf("stale aggregates leaked: %+v", got[0])
	}
	if got[0].Status != core.LegPending {
		t.Fatalf("status = %q, want pending", got[0].Status)
	}
}

func randomTrip(r *rand.Rand) core.Trip {
	trip := core.Trip{
		ID:                  "t",
		DriverID:            "d",
		Status:              core.TripActive,
		FlightType:          core.Domestic,
		Currency:            core.UZS,
		DriverProfitPercent: int64(r.Intn(101)),
	}
	nLegs := r.Intn(6)
	for i := 0; i < nLegs; i++ {
		trip.Legs = append(trip.Legs, core.Leg{
			FromCity:    "X",
			ToCity:      "Y",
			Payment:     uzs(int64(r.Intn(2_000_000))),
			GivenBudget: uzs(int64(r.Intn(1_000_000))),
		})
	}
	types := ExpenseTypes()
	nExp := r.Intn(10)
	for i := 0; i < nExp; i++ {
		var leg *int
		if nLegs > 0 && r.Intn(4) > 0 {
			leg = intp(r.Intn(nLegs))
		}
		trip.Expenses = append(trip.Expenses, expense(types[r.Intn(len(types))], int64(1+r.Intn(800_000)), leg))
	}
	return trip
}

func TestLedgerProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 0; n < 500; n++ {
		trip := randomTrip(r)
		got := Recompute(trip)

		for i, l := range got.Legs {
			want := uzs(0)
			if i > 0 {
				want = got.Legs[i-1].Balance
			}
			if l.PreviousBalance != want {
				t.Fatalf("trip %d leg %d previousBalance = %v, want %v", n, i, l.PreviousBalance, want)
			}
			if l.TotalBudget != l.GivenBudget.Add(l.PreviousBalance) {
				t.Fatalf("trip %d leg %d totalBudget mismatch", n, i)
			}
			if l.Balance != l.TotalBudget.Sub(l.SpentAmount) {
				t.Fatalf("trip %d leg %d balance mismatch", n, i)
			}
		}

		spent := UnattributedExpenses(core.UZS, len(got.Legs), got.Expenses)
		for _, l := range got.Legs {
			spent = spent.Add(l.SpentAmount)
		}
		if spent != got.Aggregates.TotalExpenses {
			t.Fatalf("trip %d: legs+unattributed = %v, totalExpenses = %v", n, spent, got.Aggregates.TotalExpenses)
		}

		again := Recompute(got)
		if !reflect.DeepEqual(again, got) {
			t.Fatalf("trip %d: recompute is not idempotent", n)
		}
	}
}

func TestClassify(t *testing.T) {
	heavy := []core.ExpenseType{core.ExpenseRepairMajor, core.ExpenseTire, core.ExpenseAccident, core.ExpenseInsurance, core.ExpenseOil}
	for _, typ := range heavy {
		if Classify(typ) != core.ClassHeavy {
			t.Errorf("%s should be heavy", typ)
		}
	}
	for _, typ := range []core.ExpenseType{core.ExpenseFuel, core.ExpenseFood, core.ExpenseRepairMinor, "something_new"} {
		if Classify(typ) != core.ClassLight {
			t.Errorf("%s should be light", typ)
		}
	}
}

func TestValidateExpenseType(t *testing.T) {
	if err := ValidateExpenseType(core.ExpenseTire); err != nil {
		t.Fatalf("tire: %v", err)
	}
	if err := ValidateExpenseType("teleport"); !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ExpenseTypes()) != 16 {
		t.Fatalf("ExpenseTypes() = %d entries", len(ExpenseTypes()))
	}
}

func TestSettleProfitSplit(t *testing.T) {
	trip := core.Trip{
		Status:              core.TripCompleted,
		Currency:            core.UZS,
		DriverProfitPercent: 20,
		Legs: []core.Leg{
			{FromCity: "A", ToCity: "B", Payment: uzs(9_000_000), GivenBudget: uzs(1_500_000)},
		},
		Expenses: []core.Expense{
			expense(core.ExpenseFuel, 500_000, intp(0)),
			expense(core.ExpenseTire, 700_000, intp(0)),
		},
	}

	a := Settle(trip)
	if a.NetProfit != uzs(10_000_000) {
		t.Fatalf("netProfit = %v", a.NetProfit)
	}
	if a.DriverProfitAmount != uzs(2_000_000) {
		t.Errorf("driverProfitAmount = %v, want 2,000,000", a.DriverProfitAmount)
	}
	if a.DriverOwes != uzs(8_000_000) {
		t.Errorf("driverOwes = %v, want 8,000,000", a.DriverOwes)
	}
	if a.HeavyExpenses != uzs(700_000) || a.LightExpenses != uzs(500_000) {
		t.Errorf("classes: light=%v heavy=%v", a.LightExpenses, a.HeavyExpenses)
	}
	if a.BusinessNet != uzs(7_300_000) {
		t.Errorf("businessNet = %v, want 7,300,000", a.BusinessNet)
	}
	if a.TotalIncome != uzs(10_500_000) || a.TotalExpenses != uzs(1_200_000) {
		t.Errorf("income=%v expenses=%v", a.TotalIncome, a.TotalExpenses)
	}
}

func TestAggregateGatesDriverOwes(t *testing.T) {
	trip := core.Trip{
		Currency:            core.UZS,
		DriverProfitPercent: 20,
		Legs:                []core.Leg{{FromCity: "A", ToCity: "B", Payment: uzs(1000), GivenBudget: uzs(0)}},
	}
	for _, status := range []core.TripStatus{core.TripActive, core.TripCancelled} {
		trip.Status = status
		a := Aggregate(trip)
		if !a.DriverOwes.IsZero() {
			t.Errorf("%s trip presents driverOwes %v", status, a.DriverOwes)
		}
		if a.DriverPaymentStatus != core.PaymentPending {
			t.Errorf("%s trip payment status = %s", status, a.DriverPaymentStatus)
		}
		if a.NetProfit != uzs(1000) {
			t.Errorf("%s trip netProfit preview = %v", status, a.NetProfit)
		}
	}

	trip.Status = core.TripCompleted
	if a := Aggregate(trip); a.DriverOwes != uzs(800) {
		t.Errorf("completed driverOwes = %v, want 800", a.DriverOwes)
	}
}

func TestAggregatePayments(t *testing.T) {
	trip := core.Trip{
		Status:              core.TripCompleted,
		Currency:            core.UZS,
		DriverProfitPercent: 20,
		Legs:                []core.Leg{{FromCity: "A", ToCity: "B", Payment: uzs(10_000_000), GivenBudget: uzs(0)}},
	}

	a := Aggregate(trip)
	if a.DriverRemainingDebt != uzs(8_000_000) || a.DriverPaymentStatus != core.PaymentPending {
		t.Fatalf("before payment: %v %s", a.DriverRemainingDebt, a.DriverPaymentStatus)
	}

	trip.Payments = append(trip.Payments, core.Payment{Amount: uzs(3_000_000)})
	a = Aggregate(trip)
	if a.DriverRemainingDebt != uzs(5_000_000) || a.DriverPaymentStatus != core.PaymentPartial {
		t.Fatalf("after 3M: %v %s", a.DriverRemainingDebt, a.DriverPaymentStatus)
	}

	trip.Payments = append(trip.Payments, core.Payment{Amount: uzs(5_000_000)})
	a = Aggregate(trip)
	if !a.DriverRemainingDebt.IsZero() || a.DriverPaymentStatus != core.PaymentPaid {
		t.Fatalf("after 8M: %v %s", a.DriverRemainingDebt, a.DriverPaymentStatus)
	}
	if a.DriverPaidAmount != uzs(8_000_000) {
		t.Fatalf("paid = %v", a.DriverPaidAmount)
	}
}

func TestPercentOf(t *testing.T) {
	cases := []struct {
		amount, pct, want int64
	}{
		{10_000_000, 20, 2_000_000},
		{1, 50, 1},    // 0.5 rounds up
		{-1, 50, -1},  // -0.5 rounds away from zero
		{3, 33, 1},    // 0.99
		{149, 1, 1},   // 1.49
		{150, 1, 2},   // 1.50
		{-150, 1, -2}, // -1.50
		{12345, 0, 0},
		{12345, 100, 12345},
		{math.MaxInt64, 50, 4_611_686_018_427_387_904},
		{math.MaxInt64, 100, math.MaxInt64},
		{math.MinInt64, 100, math.MinInt64},
	}
	for _, tc := range cases {
		if got := PercentOf(tc.amount, tc.pct); got != tc.want {
			t.Errorf("PercentOf(%d, %d) = %d, want %d", tc.amount, tc.pct, got, tc.want)
		}
	}
}

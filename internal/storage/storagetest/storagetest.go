// Package storagetest holds the behaviour every storage.Store must share.
// Implementations call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleetledger/internal/core"
	"fleetledger/internal/storage"
)

var base = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func uzs(v int64) core.Money { return core.NewMoney(v, core.UZS) }

func driver(id string) core.DriverAccount {
	return core.DriverAccount{
		ID: id, Name: "Driver " + id, Currency: core.UZS,
		PreviousDebt: uzs(0), CurrentBalance: uzs(0),
		CreatedAt: base, UpdatedAt: base,
	}
}

func trip(id, driverID string) core.Trip {
	leg := 0
	return core.Trip{
		ID: id, DriverID: driverID, Status: core.TripActive, FlightType: core.International,
		Currency: core.UZS, SecondaryCurrency: core.USD, DriverProfitPercent: 20,
		Legs: []core.Leg{
			{FromCity: "Tashkent", ToCity: "Almaty", Payment: uzs(9_000_000), GivenBudget: uzs(1_500_000), Status: core.LegCompleted, CompletedAt: &base},
			{FromCity: "Almaty", ToCity: "Bishkek", Payment: uzs(0), GivenBudget: uzs(0), Status: core.LegPending},
		},
		Expenses: []core.Expense{
			{ID: id + "-fuel", Type: core.ExpenseFuel, Amount: uzs(500_000), LegIndex: &leg, Timing: core.TimingDuring, CreatedAt: base},
			{ID: id + "-tire", Type: core.ExpenseTire, Amount: uzs(700_000), Timing: core.TimingAfter, Note: "rear left",
				OriginalAmount: &core.Money{AmountMinor: 5500, Currency: core.USD}, CreatedAt: base},
		},
		CreatedAt: base,
	}
}

// Run exercises a fresh Store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Run("drivers", func(t *testing.T) { testDrivers(t, open(t)) })
	t.Run("trip round trip", func(t *testing.T) { testTripRoundTrip(t, open(t)) })
	t.Run("optimistic version", func(t *testing.T) { testVersionConflict(t, open(t)) })
	t.Run("payments and rate", func(t *testing.T) { testPaymentsAndRate(t, open(t)) })
	t.Run("debt applied once", func(t *testing.T) { testDebtOnce(t, open(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("list filter", func(t *testing.T) { testListFilter(t, open(t)) })
}

func testDrivers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.CreateDriver(ctx, driver("d1")); err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	d, err := s.GetDriver(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDriver: %v", err)
	}
	if d.Name != "Driver d1" || d.Currency != core.UZS || !d.CreatedAt.Equal(base) {
		t.Fatalf("driver = %+v", d)
	}

	d.PreviousDebt = uzs(123)
	d.CurrentBalance = uzs(-5)
	d.Busy = true
	if err := s.UpdateDriver(ctx, d); err != nil {
		t.Fatalf("UpdateDriver: %v", err)
	}
	got, _ := s.GetDriver(ctx, "d1")
	if got.PreviousDebt != uzs(123) || got.CurrentBalance != uzs(-5) || !got.Busy {
		t.Fatalf("updated driver = %+v", got)
	}

	if _, err := s.GetDriver(ctx, "nope"); !errors.Is(err, core.ErrDriverNotFound) {
		t.Fatalf("missing driver err = %v", err)
	}
	if err := s.UpdateDriver(ctx, driver("nope")); !errors.Is(err, core.ErrDriverNotFound) {
		t.Fatalf("update missing driver err = %v", err)
	}
	all, err := s.ListDrivers(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListDrivers = %d, %v", len(all), err)
	}
}

func testTripRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_ = s.CreateDriver(ctx, driver("d1"))

	if _, err := s.CreateTrip(ctx, trip("t0", "ghost")); !errors.Is(err, core.ErrDriverNotFound) {
		t.Fatalf("trip for missing driver err = %v", err)
	}

	created, err := s.CreateTrip(ctx, trip("t1", "d1"))
	if err != nil {
		t.Fatalf("CreateTrip: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("version = %d, want 1", created.Version)
	}

	got, err := s.GetTrip(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrip: %v", err)
	}
	if got.Version != 1 || got.Status != core.TripActive || got.SecondaryCurrency != core.USD {
		t.Fatalf("trip = %+v", got)
	}
	if len(got.Legs) != 2 || got.Legs[0].FromCity != "Tashkent" || got.Legs[1].ToCity != "Bishkek" {
		t.Fatalf("legs = %+v", got.Legs)
	}
	if got.Legs[0].CompletedAt == nil || !got.Legs[0].CompletedAt.Equal(base) || got.Legs[1].CompletedAt != nil {
		t.Fatalf("leg completion = %v / %v", got.Legs[0].CompletedAt, got.Legs[1].CompletedAt)
	}
	if len(got.Expenses) != 2 || got.Expenses[0].ID != "t1-fuel" || got.Expenses[1].ID != "t1-tire" {
		t.Fatalf("expenses = %+v", got.Expenses)
	}
	if got.Expenses[0].LegIndex == nil || *got.Expenses[0].LegIndex != 0 || got.Expenses[1].LegIndex != nil {
		t.Fatal("leg index not preserved")
	}
	if o := got.Expenses[1].OriginalAmount; o == nil || *o != core.NewMoney(5500, core.USD) {
		t.Fatalf("original amount = %v", o)
	}

	if _, err := s.GetTrip(ctx, "missing"); !errors.Is(err, core.ErrTripNotFound) {
		t.Fatalf("missing trip err = %v", err)
	}
}

func testVersionConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_ = s.CreateDriver(ctx, driver("d1"))
	tr, _ := s.CreateTrip(ctx, trip("t1", "d1"))

	a := tr.Clone()
	a.Legs = a.Legs[:1]
	updated, err := s.UpdateTrip(ctx, a)
	if err != nil {
		t.Fatalf("UpdateTrip: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version = %d, want 2", updated.Version)
	}

	// b still carries version 1.
	b := tr.Clone()
	b.CancelReason = "late writer"
	_, err = s.UpdateTrip(ctx, b)
	if !core.IsState(err) || !errors.Is(err, core.ErrVersionConflict) {
		t.Fatalf("stale write err = %v", err)
	}

	got, _ := s.GetTrip(ctx, "t1")
	if got.Version != 2 || len(got.Legs) != 1 || got.CancelReason != "" {
		t.Fatalf("stale write leaked: %+v", got)
	}

	ghost := trip("ghost", "d1")
	ghost.Version = 1
	if _, err := s.UpdateTrip(ctx, ghost); !errors.Is(err, core.ErrTripNotFound) {
		t.Fatalf("update missing trip err = %v", err)
	}
}

func testPaymentsAndRate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_ = s.CreateDriver(ctx, driver("d1"))
	tr, _ := s.CreateTrip(ctx, trip("t1", "d1"))

	done := base.Add(48 * time.Hour)
	tr.Status = core.TripCompleted
	tr.CompletedAt = &done
	tr.ExchangeRateAtClose = &core.Rate{Base: core.USD, Quote: core.UZS, Micros: 12_800_000_000, AsOf: done, Source: "live"}
	tr.Aggregates.DriverOwes = uzs(8_000_000)
	tr.Payments = []core.Payment{{ID: "p1", TripID: "t1", DriverID: "d1", Amount: uzs(3_000_000), PaidAt: done, Note: "cash"}}
	tr, err := s.UpdateTrip(ctx, tr)
	if err != nil {
		t.Fatalf("UpdateTrip: %v", err)
	}

	tr.Payments = append(tr.Payments, core.Payment{ID: "p2", TripID: "t1", DriverID: "d1", Amount: uzs(5_000_000), PaidAt: done.Add(time.Hour)})
	if _, err := s.UpdateTrip(ctx, tr); err != nil {
		t.Fatalf("UpdateTrip: %v", err)
	}

	got, _ := s.GetTrip(ctx, "t1")
	if got.Status != core.TripCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("completion not stored: %+v", got)
	}
	r := got.ExchangeRateAtClose
	if r == nil || r.Micros != 12_800_000_000 || r.Base != core.USD || !r.AsOf.Equal(done) {
		t.Fatalf("rate = %+v", r)
	}
	if got.Aggregates.DriverOwes != uzs(8_000_000) {
		t.Fatalf("aggregates = %+v", got.Aggregates)
	}
	if len(got.Payments) != 2 || got.Payments[0].ID != "p1" || got.Payments[1].Amount != uzs(5_000_000) {
		t.Fatalf("payments = %+v", got.Payments)
	}
}

func testDebtOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_ = s.CreateDriver(ctx, driver("d1"))
	_, _ = s.CreateTrip(ctx, trip("t1", "d1"))

	app := core.DebtApplication{
		Key: core.DebtApplicationKey("t1", base), TripID: "t1", DriverID: "d1",
		Debt: uzs(8_000_000), Credit: uzs(0), AppliedAt: base,
	}
	if err := s.InsertDebtApplication(ctx, app); err != nil {
		t.Fatalf("InsertDebtApplication: %v", err)
	}

	again := app
	again.Key = core.DebtApplicationKey("t1", base.Add(time.Second))
	err := s.InsertDebtApplication(ctx, again)
	if !core.IsState(err) || !errors.Is(err, core.ErrAlreadyApplied) {
		t.Fatalf("second application err = %v", err)
	}

	apps, err := s.ListDebtApplications(ctx, "d1")
	if err != nil || len(apps) != 1 || apps[0].Debt != uzs(8_000_000) {
		t.Fatalf("applications = %+v, %v", apps, err)
	}
	if other, _ := s.ListDebtApplications(ctx, "d2"); len(other) != 0 {
		t.Fatalf("applications for d2 = %+v", other)
	}
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_ = s.CreateDriver(ctx, driver("d1"))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(r storage.Repository) error {
		d, err := r.GetDriver(ctx, "d1")
		if err != nil {
			return err
		}
		d.PreviousDebt = uzs(999)
		if err := r.UpdateDriver(ctx, d); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	d, _ := s.GetDriver(ctx, "d1")
	if !d.PreviousDebt.IsZero() {
		t.Fatalf("rolled back write is visible: %v", d.PreviousDebt)
	}

	err = s.InTx(ctx, func(r storage.Repository) error {
		d, _ := r.GetDriver(ctx, "d1")
		d.Busy = true
		return r.UpdateDriver(ctx, d)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if d, _ := s.GetDriver(ctx, "d1"); !d.Busy {
		t.Fatal("committed write is not visible")
	}
}

func testListFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_ = s.CreateDriver(ctx, driver("d1"))
	_ = s.CreateDriver(ctx, driver("d2"))
	_, _ = s.CreateTrip(ctx, trip("t1", "d1"))
	_, _ = s.CreateTrip(ctx, trip("t2", "d2"))
	t3, _ := s.CreateTrip(ctx, trip("t3", "d1"))
	t3.Status = core.TripCancelled
	if _, err := s.UpdateTrip(ctx, t3); err != nil {
		t.Fatalf("UpdateTrip: %v", err)
	}

	cases := []struct {
		name string
		f    storage.TripFilter
		want []string
	}{
		{"all", storage.TripFilter{}, []string{"t1", "t2", "t3"}},
		{"by driver", storage.TripFilter{DriverID: "d1"}, []string{"t1", "t3"}},
		{"by status", storage.TripFilter{Status: core.TripActive}, []string{"t1", "t2"}},
		{"both", storage.TripFilter{DriverID: "d1", Status: core.TripCancelled}, []string{"t3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListTrips(ctx, tc.f)
			if err != nil {
				t.Fatalf("ListTrips: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %d trips, want %v", len(got), tc.want)
			}
			for i, id := range tc.want {
				if got[i].ID != id {
					t.Errorf("trip[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

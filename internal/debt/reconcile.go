package debt

import (
	"fmt"

	"fleetledger/internal/core"
	"fleetledger/internal/ledger"
)

// Report compares a driver account against the figures implied by its
// trips and payments.
//
//	expectedOwed   = Σ driverOwes over completed trips - Σ payments
//	expectedCredit = Σ max(-driverOwes, 0) over folded trips
type Report struct {
	DriverID       string     `json:"driver_id"`
	CompletedTrips int        `json:"completed_trips"`
	Payments       int        `json:"payments"`
	ExpectedOwed   core.Money `json:"expected_owed"`
	ActualOwed     core.Money `json:"actual_owed"`
	ExpectedCredit core.Money `json:"expected_credit"`
	ActualCredit   core.Money `json:"actual_credit"`
	Drift          core.Money `json:"drift"`
	CreditDrift    core.Money `json:"credit_drift"`
	Problems       []string   `json:"problems,omitempty"`
}

// OK reports whether the account matches its history.
func (r Report) OK() bool {
	return r.Drift.IsZero() && r.CreditDrift.IsZero() && len(r.Problems) == 0
}

// Reconcile recomputes both sides of the conservation equation. It never
// modifies the account; drift is reported for an operator to act on.
func Reconcile(acc core.DriverAccount, trips []core.Trip, apps []core.DebtApplication) Report {
	c := acc.Currency
	r := Report{
		DriverID:       acc.ID,
		ExpectedOwed:   core.Zero(c),
		ExpectedCredit: core.Zero(c),
		ActualCredit:   acc.CurrentBalance,
	}
	applied := appliedSet(apps)

	for _, t := range trips {
		if t.DriverID != acc.ID {
			continue
		}
		if t.Currency != c {
			r.Problems = append(r.Problems, fmt.Sprintf("trip %s is in %s, account is in %s", t.ID, t.Currency, c))
			continue
		}
		if t.Status != core.TripCompleted {
			if len(t.Payments) > 0 {
				r.Problems = append(r.Problems, fmt.Sprintf("trip %s is %s but has payments", t.ID, t.Status))
			}
			if applied[t.ID] {
				r.Problems = append(r.Problems, fmt.Sprintf("trip %s is %s but has a debt application", t.ID, t.Status))
			}
			continue
		}
		r.CompletedTrips++
		owes := ledger.Settle(t).DriverOwes
		r.ExpectedOwed = r.ExpectedOwed.Add(owes)
		if applied[t.ID] {
			r.ExpectedCredit = r.ExpectedCredit.Add(owes.Neg().FloorZero())
		}
		for _, p := range t.Payments {
			r.Payments++
			r.ExpectedOwed = r.ExpectedOwed.Sub(p.Amount)
		}
		if !applied[t.ID] {
			r.Problems = append(r.Problems, fmt.Sprintf("completed trip %s has no debt application", t.ID))
		}
	}

	r.ActualOwed = TotalOwed(acc, trips, applied)
	r.Drift = r.ActualOwed.Sub(r.ExpectedOwed)
	r.CreditDrift = r.ActualCredit.Sub(r.ExpectedCredit)
	return r
}

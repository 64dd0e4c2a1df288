package debt

import (
	"sort"
	"time"

	"fleetledger/internal/core"
	"fleetledger/internal/ledger"
)

// TripDebt is the per-trip view of a driver's liability.
type TripDebt struct {
	TripID      string             `json:"trip_id"`
	DriverOwes  core.Money         `json:"driver_owes"`
	Paid        core.Money         `json:"paid"`
	Remaining   core.Money         `json:"remaining"`
	Status      core.PaymentStatus `json:"status"`
	Folded      bool               `json:"folded"`
	CompletedAt string             `json:"completed_at,omitempty"`
}

// Balance summarises what a driver owes.
type Balance struct {
	DriverID       string     `json:"driver_id"`
	PreviousDebt   core.Money `json:"previous_debt"`
	CurrentBalance core.Money `json:"current_balance"`
	TotalOwed      core.Money `json:"total_owed"`
	Trips          []TripDebt `json:"trips"`
}

// TotalOwed returns what the driver owes the business across all completed
// trips:
//
//	totalOwed = previousDebt - currentBalance + Σ (driverOwes - paid) of unfolded trips
//
// currentBalance only ever holds credits from trips whose driverOwes was
// negative, so netting it keeps totalOwed equal to Σ driverOwes of completed
// trips minus Σ payments. A negative result means the business owes the
// driver. applied holds the ids of trips with a DebtApplication; a trip
// counts in exactly one of the two halves.
func TotalOwed(acc core.DriverAccount, trips []core.Trip, applied map[string]bool) core.Money {
	total := acc.PreviousDebt.Sub(acc.CurrentBalance)
	for _, t := range trips {
		if t.DriverID != acc.ID || t.Currency != acc.Currency || t.Status != core.TripCompleted || applied[t.ID] {
			continue
		}
		a := ledger.Aggregate(t)
		total = total.Add(a.DriverOwes.Sub(a.DriverPaidAmount))
	}
	return total
}

// Summarize builds the balance view of a driver from its account, trips and
// debt applications.
func Summarize(acc core.DriverAccount, trips []core.Trip, apps []core.DebtApplication) Balance {
	applied := appliedSet(apps)
	b := Balance{
		DriverID:       acc.ID,
		PreviousDebt:   acc.PreviousDebt,
		CurrentBalance: acc.CurrentBalance,
		TotalOwed:      TotalOwed(acc, trips, applied),
		Trips:          []TripDebt{},
	}
	for _, t := range trips {
		if t.DriverID != acc.ID || t.Currency != acc.Currency || t.Status != core.TripCompleted {
			continue
		}
		a := ledger.Aggregate(t)
		td := TripDebt{
			TripID:     t.ID,
			DriverOwes: a.DriverOwes,
			Paid:       a.DriverPaidAmount,
			Remaining:  a.DriverRemainingDebt,
			Status:     a.DriverPaymentStatus,
			Folded:     applied[t.ID],
		}
		if t.CompletedAt != nil {
			td.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339)
		}
		b.Trips = append(b.Trips, td)
	}
	sort.SliceStable(b.Trips, func(i, j int) bool { return b.Trips[i].CompletedAt < b.Trips[j].CompletedAt })
	return b
}

func appliedSet(apps []core.DebtApplication) map[string]bool {
	m := make(map[string]bool, len(apps))
	for _, a := range apps {
		m[a.TripID] = true
	}
	return m
}

// Package debt folds completed-trip liability into driver accounts and
// applies driver payments. It is the only code that changes a driver's
// previous debt or current balance; callers persist what it returns.
package debt

import (
	"time"

	"fleetledger/internal/core"
	"fleetledger/internal/ledger"
)

// ApplyCompletion merges the settled liability of a completed trip into the
// driver account. A positive driverOwes is added to previousDebt; a negative
// one (the driver spent more than the trip earned) is credited to
// currentBalance, which TotalOwed nets against previousDebt.
//
// The returned DebtApplication must be stored in the same transaction as the
// account and the trip. Storage rejects a second application for the same
// trip, which is what makes completion exactly-once.
func ApplyCompletion(acc core.DriverAccount, trip core.Trip, at time.Time) (core.DriverAccount, core.DebtApplication, error) {
	if trip.Status != core.TripCompleted || trip.CompletedAt == nil {
		return acc, core.DebtApplication{}, core.NewStateError(core.InvariantTripCompleted,
			"trip %s is %s; only completed trips carry debt", trip.ID, trip.Status)
	}
	if trip.DriverID != acc.ID {
		return acc, core.DebtApplication{}, core.NewValidationError("driver_id",
			"trip %s belongs to driver %s, not %s", trip.ID, trip.DriverID, acc.ID)
	}
	if trip.Currency != acc.Currency {
		return acc, core.DebtApplication{}, core.NewValidationError("currency",
			"trip currency %s does not match driver account currency %s", trip.Currency, acc.Currency)
	}

	owes := ledger.Aggregate(trip).DriverOwes
	app := core.DebtApplication{
		Key:       core.DebtApplicationKey(trip.ID, *trip.CompletedAt),
		TripID:    trip.ID,
		DriverID:  acc.ID,
		Debt:      owes.FloorZero(),
		Credit:    owes.Neg().FloorZero(),
		AppliedAt: at,
	}

	acc.PreviousDebt = acc.PreviousDebt.Add(app.Debt)
	acc.CurrentBalance = acc.CurrentBalance.Add(app.Credit)
	acc.UpdatedAt = at
	return acc, app, nil
}

// ApplyPayment records a driver payment against a completed trip. The
// payment is appended, the trip aggregates are recomputed and the amount is
// retired from the driver's previous debt.
//
// Amounts must be positive, in the trip currency and no larger than the
// trip's remaining debt.
func ApplyPayment(trip core.Trip, acc core.DriverAccount, p core.Payment) (core.Trip, core.DriverAccount, error) {
	if trip.Status != core.TripCompleted {
		return trip, acc, core.NewStateError(core.InvariantTripCompleted,
			"payments can only be recorded against completed trips; trip %s is %s", trip.ID, trip.Status)
	}
	if trip.DriverID != acc.ID {
		return trip, acc, core.NewValidationError("driver_id",
			"trip %s belongs to driver %s, not %s", trip.ID, trip.DriverID, acc.ID)
	}
	if err := p.Amount.Validate(); err != nil {
		return trip, acc, err
	}
	if p.Amount.Currency != trip.Currency {
		return trip, acc, core.NewValidationError("currency",
			"payment currency %s does not match trip currency %s", p.Amount.Currency, trip.Currency)
	}
	if len(p.Note) > 200 {
		return trip, acc, core.NewValidationError("note", "note too long (max 200 characters)")
	}

	remaining := ledger.Aggregate(trip).DriverRemainingDebt
	if p.Amount.GreaterThan(remaining) {
		return trip, acc, core.NewValidationError("amount",
			"payment %s exceeds remaining debt %s", p.Amount, remaining)
	}

	p.TripID = trip.ID
	p.DriverID = acc.ID
	out := trip.Clone()
	out.Payments = append(out.Payments, p)
	out = ledger.Recompute(out)

	acc.PreviousDebt = acc.PreviousDebt.Sub(p.Amount).FloorZero()
	acc.UpdatedAt = p.PaidAt
	return out, acc, nil
}

// Package lifecycle holds the trip state machine. Transitions are looked
// up in a fixed table; any pair not listed is rejected.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"fleetledger/internal/core"
	"fleetledger/internal/currency"
	"fleetledger/internal/ledger"
)

// Event drives a trip from one status to another.
type Event string

const (
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
)

var transitions = map[core.TripStatus]map[Event]core.TripStatus{
	core.TripActive: {
		EventComplete: core.TripCompleted,
		EventCancel:   core.TripCancelled,
	},
	core.TripCompleted: {},
	core.TripCancelled: {},
}

// Transition returns the status reached by applying ev in status from.
func Transition(from core.TripStatus, ev Event) (core.TripStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, &core.StateError{
		Invariant: core.InvariantTransition,
		Message:   fmt.Sprintf("cannot %s a %s trip", ev, from),
		Err:       core.ErrInvalidTransition,
	}
}

// Terminal reports whether no event leaves status s.
func Terminal(s core.TripStatus) bool {
	return len(transitions[s]) == 0
}

// RequireActive rejects edits to a trip that is no longer active.
func RequireActive(t core.Trip) error {
	if t.Status != core.TripActive {
		return core.NewStateError(core.InvariantTripActive, "trip %s is %s; only active trips can be edited", t.ID, t.Status)
	}
	return nil
}

// CanComplete checks that every leg is completed. override skips the check.
func CanComplete(t core.Trip, override bool) error {
	if override {
		return nil
	}
	if len(t.Legs) == 0 {
		return core.NewStateError(core.InvariantLegsCompleted, "trip has no legs")
	}
	if open := len(t.Legs) - t.CompletedLegs(); open > 0 {
		return core.NewStateError(core.InvariantLegsCompleted, "%d of %d legs not completed", open, len(t.Legs))
	}
	return nil
}

// CompleteOptions configures Complete.
type CompleteOptions struct {
	// Override completes the trip even if some legs are still pending.
	Override bool
	// Rate is the rate frozen into the trip. Required for international
	// trips; it must cover the trip's currency pair.
	Rate *core.Rate
}

// Complete moves an active trip to completed, freezes the exchange rate and
// recomputes the final figures. Debt is applied separately by the caller in
// the same transaction.
func Complete(t core.Trip, at time.Time, opts CompleteOptions) (core.Trip, error) {
	to, err := Transition(t.Status, EventComplete)
	if err != nil {
		return t, err
	}
	if err := CanComplete(t, opts.Override); err != nil {
		return t, err
	}

	out := t.Clone()
	if t.FlightType == core.International {
		if opts.Rate == nil {
			return t, &core.ConversionError{From: t.Currency, To: t.SecondaryCurrency, Reason: "no rate at completion", Err: core.ErrRateUnavailable}
		}
		if _, err := currency.Convert(core.Zero(t.Currency), t.SecondaryCurrency, *opts.Rate); err != nil {
			return t, err
		}
		r := *opts.Rate
		out.ExchangeRateAtClose = &r
	}

	at = at.UTC()
	out.Status = to
	out.CompletedAt = &at
	return ledger.Recompute(out), nil
}

// Cancel moves an active trip to cancelled. No settlement or debt follows.
func Cancel(t core.Trip, reason string, at time.Time) (core.Trip, error) {
	to, err := Transition(t.Status, EventCancel)
	if err != nil {
		return t, err
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 200 {
		return t, core.NewValidationError("reason", "reason too long (max 200 characters)")
	}
	at = at.UTC()
	out := t.Clone()
	out.Status = to
	out.CancelledAt = &at
	out.CancelReason = reason
	return ledger.Recompute(out), nil
}

// SecondaryAggregates converts the aggregates of a completed international
// trip with the rate frozen at completion. It returns nil for domestic
// trips and for trips not yet completed.
func SecondaryAggregates(t core.Trip) (*core.Aggregates, error) {
	if t.FlightType != core.International || t.Status != core.TripCompleted || t.ExchangeRateAtClose == nil {
		return nil, nil
	}
	a, err := currency.ConvertAggregates(t.Aggregates, t.SecondaryCurrency, *t.ExchangeRateAtClose)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

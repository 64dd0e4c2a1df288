package ledger

import "fleetledger/internal/core"

// Recompute derives every computed field of a trip from its inputs and
// returns the updated copy. It is called before every persist; stored
// derived values are ignored.
func Recompute(t core.Trip) core.Trip {
	out := t.Clone()
	out.Legs = RecomputeLegs(t.Currency, t.Legs, t.Expenses)
	out.Aggregates = Aggregate(out)
	return out
}

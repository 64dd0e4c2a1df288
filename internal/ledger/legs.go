// Package ledger holds the pure trip arithmetic: leg carry-forward,
// expense classification and the settlement split. Nothing here performs
// I/O; every function returns fresh values and never reads previously
// stored aggregates.
package ledger

import "fleetledger/internal/core"

// RecomputeLegs returns a copy of legs with previousBalance, totalBudget,
// spentAmount and balance recomputed left to right. Leg indexes are
// renumbered to their position. Expenses whose leg index is absent or out
// of range are not attributed to any leg.
func RecomputeLegs(c core.Currency, legs []core.Leg, expenses []core.Expense) []core.Leg {
	spent := spentByLeg(c, len(legs), expenses)

	out := make([]core.Leg, len(legs))
	carry := core.Zero(c)
	for i, l := range legs {
		l.Index = i
		l.PreviousBalance = carry
		l.TotalBudget = l.GivenBudget.Add(carry)
		l.SpentAmount = spent[i]
		l.Balance = l.TotalBudget.Sub(l.SpentAmount)
		if l.Status == "" {
			l.Status = core.LegPending
		}
		out[i] = l
		carry = l.Balance
	}
	return out
}

// UnattributedExpenses sums expenses not tied to any of the n legs.
func UnattributedExpenses(c core.Currency, n int, expenses []core.Expense) core.Money {
	total := core.Zero(c)
	for _, e := range expenses {
		if !attributed(e, n) {
			total = total.Add(e.Amount)
		}
	}
	return total
}

func spentByLeg(c core.Currency, n int, expenses []core.Expense) []core.Money {
	spent := make([]core.Money, n)
	for i := range spent {
		spent[i] = core.Zero(c)
	}
	for _, e := range expenses {
		if attributed(e, n) {
			spent[*e.LegIndex] = spent[*e.LegIndex].Add(e.Amount)
		}
	}
	return spent
}

func attributed(e core.Expense, n int) bool {
	return e.LegIndex != nil && *e.LegIndex >= 0 && *e.LegIndex < n
}

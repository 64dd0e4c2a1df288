package ledger

import (
	"sort"

	"fleetledger/internal/core"
)

// classes is the fixed liability table. Heavy expenses are charged to the
// business outside the shared profit pool.
var classes = map[core.ExpenseType]core.ExpenseClass{
	core.ExpenseFuel:        core.ClassLight,
	core.ExpenseFood:        core.ClassLight,
	core.ExpenseLodging:     core.ClassLight,
	core.ExpenseParking:     core.ClassLight,
	core.ExpenseToll:        core.ClassLight,
	core.ExpenseRepairMinor: core.ClassLight,
	core.ExpenseWashing:     core.ClassLight,
	core.ExpenseFine:        core.ClassLight,
	core.ExpenseLoading:     core.ClassLight,
	core.ExpenseCustoms:     core.ClassLight,
	core.ExpenseOther:       core.ClassLight,

	core.ExpenseRepairMajor: core.ClassHeavy,
	core.ExpenseTire:        core.ClassHeavy,
	core.ExpenseAccident:    core.ClassHeavy,
	core.ExpenseInsurance:   core.ClassHeavy,
	core.ExpenseOil:         core.ClassHeavy,
}

// Classify maps an expense type to its liability class. Anything not in
// the heavy set is light.
func Classify(t core.ExpenseType) core.ExpenseClass {
	if classes[t] == core.ClassHeavy {
		return core.ClassHeavy
	}
	return core.ClassLight
}

// ValidateExpenseType rejects types missing from the classification table.
func ValidateExpenseType(t core.ExpenseType) error {
	if _, ok := classes[t]; !ok {
		return core.NewValidationError("type", "unknown expense type %q", string(t))
	}
	return nil
}

// ExpenseTypes lists every known expense type in name order.
func ExpenseTypes() []core.ExpenseType {
	out := make([]core.ExpenseType, 0, len(classes))
	for t := range classes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

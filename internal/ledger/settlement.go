package ledger

import "fleetledger/internal/core"

// Settle computes the settlement figures for a trip snapshot.
//
//	totalIncome        = totalPayment + totalGivenBudget
//	netProfit          = totalIncome - lightExpenses
//	driverProfitAmount = round(netProfit * driverProfitPercent / 100)
//	driverOwes         = netProfit - driverProfitAmount
//	businessNet        = driverOwes - heavyExpenses
//
// DriverOwes is the raw figure here; Aggregate applies the completion gate.
// Payment fields are left zero.
func Settle(t core.Trip) core.Aggregates {
	c := t.Currency
	a := core.Aggregates{
		TotalPayment:     core.Zero(c),
		TotalGivenBudget: core.Zero(c),
		TotalExpenses:    core.Zero(c),
		LightExpenses:    core.Zero(c),
		HeavyExpenses:    core.Zero(c),
	}
	for _, l := range t.Legs {
		a.TotalPayment = a.TotalPayment.Add(l.Payment)
		a.TotalGivenBudget = a.TotalGivenBudget.Add(l.GivenBudget)
	}
	for _, e := range t.Expenses {
		a.TotalExpenses = a.TotalExpenses.Add(e.Amount)
		if Classify(e.Type) == core.ClassHeavy {
			a.HeavyExpenses = a.HeavyExpenses.Add(e.Amount)
		} else {
			a.LightExpenses = a.LightExpenses.Add(e.Amount)
		}
	}

	a.TotalIncome = a.TotalPayment.Add(a.TotalGivenBudget)
	a.NetProfit = a.TotalIncome.Sub(a.LightExpenses)
	a.DriverProfitAmount = core.NewMoney(PercentOf(a.NetProfit.AmountMinor, t.DriverProfitPercent), c)
	a.DriverOwes = a.NetProfit.Sub(a.DriverProfitAmount)
	a.BusinessNet = a.DriverOwes.Sub(a.HeavyExpenses)
	a.DriverPaidAmount = core.Zero(c)
	a.DriverRemainingDebt = core.Zero(c)
	a.DriverPaymentStatus = core.PaymentPending
	return a
}

// Aggregate returns the caller-facing aggregates of a trip. Liability is
// only attributed once the trip is completed: for any other status
// DriverOwes is zero. Payment progress is derived from the payment list.
func Aggregate(t core.Trip) core.Aggregates {
	a := Settle(t)
	if t.Status != core.TripCompleted {
		a.DriverOwes = core.Zero(t.Currency)
	}

	paid := core.Zero(t.Currency)
	for _, p := range t.Payments {
		paid = paid.Add(p.Amount)
	}
	a.DriverPaidAmount = paid
	a.DriverRemainingDebt = a.DriverOwes.Sub(paid).FloorZero()
	a.DriverPaymentStatus = PaymentStatusOf(t.Status, paid, a.DriverRemainingDebt)
	return a
}

// PaymentStatusOf derives the driver payment status. Trips that are not
// completed owe nothing yet and stay pending.
func PaymentStatusOf(status core.TripStatus, paid, remaining core.Money) core.PaymentStatus {
	switch {
	case status != core.TripCompleted:
		return core.PaymentPending
	case remaining.IsZero():
		return core.PaymentPaid
	case paid.IsPositive():
		return core.PaymentPartial
	default:
		return core.PaymentPending
	}
}

// PercentOf returns amount*pct/100 rounded half away from zero. The
// product is split around the hundreds so no intermediate value is larger
// than the result.
func PercentOf(amount, pct int64) int64 {
	hi, lo := amount/100, amount%100
	q, r := hi*pct+lo*pct/100, lo*pct%100
	switch {
	case r >= 50:
		q++
	case r <= -50:
		q--
	}
	return q
}

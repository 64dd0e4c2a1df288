// Package export writes settled trips to external spreadsheets.
package export

import (
	"context"
	"errors"
	"time"

	"fleetledger/internal/amqp"
	"fleetledger/internal/core"
)

// Ports for outbound adapters.
type (
	// SettlementWriter appends one row per completed trip. Appending a trip
	// that is already present returns the existing reference.
	SettlementWriter interface {
		AppendSettlement(ctx context.Context, row SettlementRow) (rowRef string, err error)
	}
)

// Header is the column layout written by every exporter.
var Header = []string{
	"Trip ID", "Driver ID", "Completed At", "Flight Type", "Legs", "Currency",
	"Total Income", "Light Expenses", "Heavy Expenses", "Net Profit",
	"Driver Profit", "Driver Owes", "Business Net",
	"Secondary Currency", "Rate At Close", "Net Profit (Secondary)",
}

// SettlementRow is the exported summary of a completed trip.
type SettlementRow struct {
	TripID        string
	DriverID      string
	CompletedAt   time.Time
	FlightType    core.FlightType
	Legs          int
	Currency      core.Currency
	TotalIncome   core.Money
	LightExpenses core.Money
	HeavyExpenses core.Money
	NetProfit     core.Money
	DriverProfit  core.Money
	DriverOwes    core.Money
	BusinessNet   core.Money

	SecondaryCurrency core.Currency
	Rate              string
	SecondaryNet      *core.Money
}

var ErrNotCompleted = errors.New("trip event is not a completion")

// RowFromEvent builds the export row of a trip-completed event.
func RowFromEvent(ev *amqp.TripEvent) (SettlementRow, error) {
	if ev.Event != amqp.EventTripCompleted || ev.Summary.Status != core.TripCompleted {
		return SettlementRow{}, ErrNotCompleted
	}
	s := ev.Summary
	row := SettlementRow{
		TripID:        ev.TripID,
		DriverID:      ev.DriverID,
		FlightType:    s.FlightType,
		Legs:          s.Legs,
		Currency:      s.Currency,
		TotalIncome:   s.Aggregates.TotalIncome,
		LightExpenses: s.Aggregates.LightExpenses,
		HeavyExpenses: s.Aggregates.HeavyExpenses,
		NetProfit:     s.Aggregates.NetProfit,
		DriverProfit:  s.Aggregates.DriverProfitAmount,
		DriverOwes:    s.Aggregates.DriverOwes,
		BusinessNet:   s.Aggregates.BusinessNet,
	}
	if s.CompletedAt != nil {
		row.CompletedAt = s.CompletedAt.UTC()
	}
	if s.ExchangeRateAtClose != nil {
		row.SecondaryCurrency = s.SecondaryCurrency
		row.Rate = s.ExchangeRateAtClose.String()
	}
	if s.Secondary != nil {
		net := s.Secondary.NetProfit
		row.SecondaryNet = &net
	}
	return row, nil
}

// Values renders the row in Header order. Amounts are decimal strings in
// major units.
func (r SettlementRow) Values() []any {
	completed := ""
	if !r.CompletedAt.IsZero() {
		completed = r.CompletedAt.Format(time.RFC3339)
	}
	secondaryNet := ""
	if r.SecondaryNet != nil {
		secondaryNet = r.SecondaryNet.Decimal()
	}
	return []any{
		r.TripID, r.DriverID, completed, string(r.FlightType), r.Legs, string(r.Currency),
		r.TotalIncome.Decimal(), r.LightExpenses.Decimal(), r.HeavyExpenses.Decimal(), r.NetProfit.Decimal(),
		r.DriverProfit.Decimal(), r.DriverOwes.Decimal(), r.BusinessNet.Decimal(),
		string(r.SecondaryCurrency), r.Rate, secondaryNet,
	}
}

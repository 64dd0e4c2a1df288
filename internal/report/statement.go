// Package report renders driver statements as XLSX workbooks.
package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"fleetledger/internal/core"
	"fleetledger/internal/debt"
)

// ContentType is the media type of a statement workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	summarySheet  = "Summary"
	tripsSheet    = "Trips"
	paymentsSheet = "Payments"
)

var (
	tripHeaders    = []string{"Trip ID", "Completed At", "Flight Type", "Net Profit", "Driver Owes", "Paid", "Remaining", "Status", "Folded"}
	paymentHeaders = []string{"Trip ID", "Payment ID", "Paid At", "Amount", "Note"}
)

// Statement is everything a driver statement shows.
type Statement struct {
	Account     core.DriverAccount
	Trips       []core.Trip
	Balance     debt.Balance
	GeneratedAt time.Time
}

// WriteStatement writes the statement workbook to w. It has a summary
// sheet, one row per completed trip and one row per payment.
func WriteStatement(w io.Writer, s Statement) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	if err := writeSummary(f, s); err != nil {
		return err
	}
	if err := writeTrips(f, s); err != nil {
		return err
	}
	if err := writePayments(f, s); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, s Statement) error {
	rows := [][]any{
		{"Driver ID", s.Account.ID},
		{"Name", s.Account.Name},
		{"Currency", string(s.Account.Currency)},
		{"Previous Debt", major(s.Balance.PreviousDebt)},
		{"Current Balance", major(s.Balance.CurrentBalance)},
		{"Total Owed", major(s.Balance.TotalOwed)},
		{"Generated At", s.GeneratedAt.UTC().Format("02.01.2006 15:04")},
	}
	for i, r := range rows {
		if err := setRow(f, summarySheet, i+1, r); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "B", 22)
}

func writeTrips(f *excelize.File, s Statement) error {
	if _, err := f.NewSheet(tripsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeHeader(f, tripsSheet, tripHeaders); err != nil {
		return err
	}

	byID := make(map[string]core.Trip, len(s.Trips))
	for _, t := range s.Trips {
		byID[t.ID] = t
	}
	rowIndex := 2
	for _, td := range s.Balance.Trips {
		t := byID[td.TripID]
		folded := "no"
		if td.Folded {
			folded = "yes"
		}
		err := setRow(f, tripsSheet, rowIndex, []any{
			td.TripID,
			td.CompletedAt,
			string(t.FlightType),
			major(t.Aggregates.NetProfit),
			major(td.DriverOwes),
			major(td.Paid),
			major(td.Remaining),
			string(td.Status),
			folded,
		})
		if err != nil {
			return err
		}
		rowIndex++
	}
	return f.SetColWidth(tripsSheet, "A", "B", 38)
}

func writePayments(f *excelize.File, s Statement) error {
	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := writeHeader(f, paymentsSheet, paymentHeaders); err != nil {
		return err
	}

	rowIndex := 2
	for _, t := range s.Trips {
		for _, p := range t.Payments {
			err := setRow(f, paymentsSheet, rowIndex, []any{
				t.ID,
				p.ID,
				p.PaidAt.UTC().Format("02.01.2006 15:04"),
				major(p.Amount),
				p.Note,
			})
			if err != nil {
				return err
			}
			rowIndex++
		}
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	return setRow(f, sheet, 1, row)
}

func setRow(f *excelize.File, sheet string, rowIndex int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIndex)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, rowIndex, err)
	}
	return nil
}

// major converts minor units to a float for spreadsheet display only.
func major(m core.Money) float64 {
	return float64(m.AmountMinor) / math.Pow10(m.Currency.MinorDigits())
}

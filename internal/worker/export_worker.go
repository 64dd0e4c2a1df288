package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fleetledger/internal/amqp"
	"fleetledger/internal/core"
	"fleetledger/internal/export"
	"fleetledger/internal/lifecycle"
	"fleetledger/internal/storage"
)

// ExportWorker writes completed trip settlements to a spreadsheet.
type ExportWorker struct {
	trips  storage.TripStore
	writer export.SettlementWriter
}

// NewExportWorker creates a worker. trips may be nil; it is only needed by
// Backfill.
func NewExportWorker(trips storage.TripStore, writer export.SettlementWriter) *ExportWorker {
	return &ExportWorker{trips: trips, writer: writer}
}

// HandleTripEvent exports one trip-completed event. Other events are
// acknowledged and ignored.
func (w *ExportWorker) HandleTripEvent(ctx context.Context, msg *amqp.TripEvent) error {
	row, err := export.RowFromEvent(msg)
	if errors.Is(err, export.ErrNotCompleted) {
		slog.DebugContext(ctx, "Ignoring trip event", "event", msg.Event, "trip_id", msg.TripID)
		return nil
	}
	if err != nil {
		return err
	}

	ref, err := w.writer.AppendSettlement(ctx, row)
	if err != nil {
		return fmt.Errorf("export settlement: %w", err)
	}
	slog.InfoContext(ctx, "Exported trip settlement",
		"trip_id", row.TripID,
		"driver_id", row.DriverID,
		"row_ref", ref,
		"driver_owes_minor", row.DriverOwes.AmountMinor)
	return nil
}

// Backfill exports every completed trip in storage. It recovers from
// events lost while the worker or the broker was down; the writer skips
// trips it already has.
func (w *ExportWorker) Backfill(ctx context.Context) error {
	if w.trips == nil {
		return nil
	}
	trips, err := w.trips.ListTrips(ctx, storage.TripFilter{Status: core.TripCompleted})
	if err != nil {
		return fmt.Errorf("list completed trips: %w", err)
	}
	if len(trips) == 0 {
		slog.InfoContext(ctx, "No completed trips to backfill")
		return nil
	}

	exported, failed := 0, 0
	for _, t := range trips {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sec, err := lifecycle.SecondaryAggregates(t)
		if err != nil {
			slog.WarnContext(ctx, "Secondary figures unavailable", "trip_id", t.ID, "error", err)
		}
		if err := w.HandleTripEvent(ctx, amqp.NewTripEvent(amqp.EventTripCompleted, t, sec)); err != nil {
			slog.ErrorContext(ctx, "Failed to backfill settlement", "trip_id", t.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Settlement backfill completed",
		"total", len(trips),
		"exported", exported,
		"errors", failed)
	return nil
}

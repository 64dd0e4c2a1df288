package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"fleetledger/internal/core"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// SQLiteRepository implements Store on a single SQLite file.
type SQLiteRepository struct {
	db            *sql.DB
	queries       *Queries
	inTx          bool
	schemaVersion uint
}

type repoOptions struct {
	migrations fs.FS
}

// Option configures NewSQLiteRepository.
type Option func(*repoOptions)

// WithMigrations replaces the embedded ledger schema with src. Files follow
// golang-migrate naming ("0002_add_index.up.sql") at the root of src.
func WithMigrations(src fs.FS) Option {
	return func(o *repoOptions) { o.migrations = src }
}

// NewSQLiteRepository opens the ledger database at dbPath, creating the
// directory and applying pending migrations first.
func NewSQLiteRepository(dbPath string, opts ...Option) (*SQLiteRepository, error) {
	o := repoOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.migrations == nil {
		sub, err := fs.Sub(schemaFS, "migrations")
		if err != nil {
			return nil, fmt.Errorf("open embedded schema: %w", err)
		}
		o.migrations = sub
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// The schema must be current before the main handle is opened.
	version, err := migrateSchema(dbPath, o.migrations)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: driver account read-modify-write cycles serialize.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:            db,
		queries:       New(db),
		schemaVersion: version,
	}, nil
}

// migrateSchema brings the database at dbPath up to the newest migration in
// src and returns the resulting version. It uses its own handle because
// closing the migrator closes the database it wraps.
func migrateSchema(dbPath string, src fs.FS) (uint, error) {
	handle, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, fmt.Errorf("open migration database: %w", err)
	}
	defer handle.Close()

	target, err := sqlite.WithInstance(handle, &sqlite.Config{})
	if err != nil {
		return 0, fmt.Errorf("create sqlite migration driver: %w", err)
	}
	source, err := iofs.New(src, ".")
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", target)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate ledger schema: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("ledger schema version %d is dirty", version)
	}
	slog.Debug("ledger schema ready", "version", version)
	return version, nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schemaVersion
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil && !r.inTx {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// InTx runs fn inside a transaction. Nested calls join the outer one.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txRepo := &SQLiteRepository{db: r.db, queries: r.queries.WithTx(tx), inTx: true}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Drivers

func (r *SQLiteRepository) CreateDriver(ctx context.Context, d core.DriverAccount) error {
	if err := r.queries.InsertDriver(ctx, driverToRow(d)); err != nil {
		return fmt.Errorf("insert driver %s: %w", d.ID, err)
	}
	slog.InfoContext(ctx, "Driver saved to SQLite", "driver_id", d.ID, "currency", d.Currency)
	return nil
}

func (r *SQLiteRepository) GetDriver(ctx context.Context, id string) (core.DriverAccount, error) {
	row, err := r.queries.GetDriver(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DriverAccount{}, fmt.Errorf("driver %s: %w", id, core.ErrDriverNotFound)
	}
	if err != nil {
		return core.DriverAccount{}, fmt.Errorf("get driver %s: %w", id, err)
	}
	return rowToDriver(row)
}

func (r *SQLiteRepository) ListDrivers(ctx context.Context) ([]core.DriverAccount, error) {
	rows, err := r.queries.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	out := make([]core.DriverAccount, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDriver(row)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateDriver(ctx context.Context, d core.DriverAccount) error {
	n, err := r.queries.UpdateDriver(ctx, driverToRow(d))
	if err != nil {
		return fmt.Errorf("update driver %s: %w", d.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("driver %s: %w", d.ID, core.ErrDriverNotFound)
	}
	return nil
}

// Trips

func (r *SQLiteRepository) CreateTrip(ctx context.Context, t core.Trip) (core.Trip, error) {
	t.Version = 1
	row, err := tripToRow(t)
	if err != nil {
		return core.Trip{}, err
	}
	err = r.InTx(ctx, func(repo Repository) error {
		q := repo.(*SQLiteRepository).queries
		if err := q.InsertTrip(ctx, row); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("driver %s: %w", t.DriverID, core.ErrDriverNotFound)
			}
			return fmt.Errorf("insert trip %s: %w", t.ID, err)
		}
		return writeTripChildren(ctx, q, t)
	})
	if err != nil {
		return core.Trip{}, err
	}
	slog.InfoContext(ctx, "Trip saved to SQLite", "trip_id", t.ID, "driver_id", t.DriverID, "legs", len(t.Legs))
	return t, nil
}

func (r *SQLiteRepository) GetTrip(ctx context.Context, id string) (core.Trip, error) {
	row, err := r.queries.GetTrip(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Trip{}, fmt.Errorf("trip %s: %w", id, core.ErrTripNotFound)
	}
	if err != nil {
		return core.Trip{}, fmt.Errorf("get trip %s: %w", id, err)
	}
	t, err := rowToTrip(row)
	if err != nil {
		return core.Trip{}, err
	}

	legs, err := r.queries.ListLegs(ctx, id)
	if err != nil {
		return core.Trip{}, fmt.Errorf("list legs of %s: %w", id, err)
	}
	for _, l := range legs {
		leg, err := rowToLeg(l, t.Currency)
		if err != nil {
			return core.Trip{}, err
		}
		t.Legs = append(t.Legs, leg)
	}

	expenses, err := r.queries.ListExpenses(ctx, id)
	if err != nil {
		return core.Trip{}, fmt.Errorf("list expenses of %s: %w", id, err)
	}
	for _, e := range expenses {
		exp, err := rowToExpense(e)
		if err != nil {
			return core.Trip{}, err
		}
		t.Expenses = append(t.Expenses, exp)
	}

	payments, err := r.queries.ListPayments(ctx, id)
	if err != nil {
		return core.Trip{}, fmt.Errorf("list payments of %s: %w", id, err)
	}
	for _, p := range payments {
		pay, err := rowToPayment(p)
		if err != nil {
			return core.Trip{}, err
		}
		t.Payments = append(t.Payments, pay)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTrips(ctx context.Context, f TripFilter) ([]core.Trip, error) {
	ids, err := r.queries.ListTripIDs(ctx, f.DriverID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	out := make([]core.Trip, 0, len(ids))
	for _, id := range ids {
		t, err := r.GetTrip(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateTrip(ctx context.Context, t core.Trip) (core.Trip, error) {
	row, err := tripToRow(t)
	if err != nil {
		return core.Trip{}, err
	}
	err = r.InTx(ctx, func(repo Repository) error {
		q := repo.(*SQLiteRepository).queries
		n, err := q.UpdateTripVersioned(ctx, row, t.Version)
		if err != nil {
			return fmt.Errorf("update trip %s: %w", t.ID, err)
		}
		if n == 0 {
			exists, err := q.TripExists(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("update trip %s: %w", t.ID, err)
			}
			if !exists {
				return fmt.Errorf("trip %s: %w", t.ID, core.ErrTripNotFound)
			}
			return &core.StateError{
				Invariant: core.InvariantVersion,
				Message:   fmt.Sprintf("trip %s was modified concurrently (version %d is stale)", t.ID, t.Version),
				Err:       core.ErrVersionConflict,
			}
		}
		if err := q.DeleteLegs(ctx, t.ID); err != nil {
			return fmt.Errorf("replace legs of %s: %w", t.ID, err)
		}
		if err := q.DeleteExpenses(ctx, t.ID); err != nil {
			return fmt.Errorf("replace expenses of %s: %w", t.ID, err)
		}
		return writeTripChildren(ctx, q, t)
	})
	if err != nil {
		return core.Trip{}, err
	}
	t.Version++
	slog.DebugContext(ctx, "Trip updated in SQLite", "trip_id", t.ID, "version", t.Version, "status", t.Status)
	return t, nil
}

func writeTripChildren(ctx context.Context, q *Queries, t core.Trip) error {
	for i, l := range t.Legs {
		if err := q.InsertLeg(ctx, legToRow(t.ID, i, l)); err != nil {
			return fmt.Errorf("insert leg %d of %s: %w", i, t.ID, err)
		}
	}
	for i, e := range t.Expenses {
		if err := q.InsertExpense(ctx, expenseToRow(t.ID, i, e)); err != nil {
			return fmt.Errorf("insert expense %s: %w", e.ID, err)
		}
	}
	for _, p := range t.Payments {
		if err := q.InsertPayment(ctx, paymentToRow(p)); err != nil {
			return fmt.Errorf("insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

// Debt applications

func (r *SQLiteRepository) InsertDebtApplication(ctx context.Context, a core.DebtApplication) error {
	exists, err := r.queries.DebtApplicationExists(ctx, a.TripID)
	if err != nil {
		return fmt.Errorf("check debt application %s: %w", a.TripID, err)
	}
	if exists {
		return alreadyApplied(a.TripID)
	}
	if err := r.queries.InsertDebtApplication(ctx, debtApplicationToRow(a)); err != nil {
		if isUniqueViolation(err) {
			return alreadyApplied(a.TripID)
		}
		return fmt.Errorf("insert debt application %s: %w", a.Key, err)
	}
	slog.InfoContext(ctx, "Debt application saved",
		"trip_id", a.TripID,
		"driver_id", a.DriverID,
		"debt_minor", a.Debt.AmountMinor,
		"credit_minor", a.Credit.AmountMinor)
	return nil
}

func (r *SQLiteRepository) ListDebtApplications(ctx context.Context, driverID string) ([]core.DebtApplication, error) {
	rows, err := r.queries.ListDebtApplications(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("list debt applications: %w", err)
	}
	out := make([]core.DebtApplication, 0, len(rows))
	for _, row := range rows {
		a, err := rowToDebtApplication(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func alreadyApplied(tripID string) error {
	return &core.StateError{
		Invariant: core.InvariantSingleSettlement,
		Message:   fmt.Sprintf("debt for trip %s has already been applied", tripID),
		Err:       core.ErrAlreadyApplied,
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Row mapping

func driverToRow(d core.DriverAccount) driverRow {
	return driverRow{
		ID:                  d.ID,
		Name:                d.Name,
		Currency:            string(d.Currency),
		PreviousDebtMinor:   d.PreviousDebt.AmountMinor,
		CurrentBalanceMinor: d.CurrentBalance.AmountMinor,
		Busy:                d.Busy,
		CreatedAt:           formatTime(d.CreatedAt),
		UpdatedAt:           formatTime(d.UpdatedAt),
	}
}

func rowToDriver(row driverRow) (core.DriverAccount, error) {
	c := core.Currency(row.Currency)
	d := core.DriverAccount{
		ID:             row.ID,
		Name:           row.Name,
		Currency:       c,
		PreviousDebt:   core.NewMoney(row.PreviousDebtMinor, c),
		CurrentBalance: core.NewMoney(row.CurrentBalanceMinor, c),
		Busy:           row.Busy,
	}
	var err error
	if d.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return d, fmt.Errorf("driver %s created_at: %w", row.ID, err)
	}
	if d.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return d, fmt.Errorf("driver %s updated_at: %w", row.ID, err)
	}
	return d, nil
}

func tripToRow(t core.Trip) (tripRow, error) {
	agg, err := json.Marshal(t.Aggregates)
	if err != nil {
		return tripRow{}, fmt.Errorf("encode aggregates of %s: %w", t.ID, err)
	}
	row := tripRow{
		ID:                  t.ID,
		DriverID:            t.DriverID,
		Status:              string(t.Status),
		FlightType:          string(t.FlightType),
		Currency:            string(t.Currency),
		SecondaryCurrency:   string(t.SecondaryCurrency),
		DriverProfitPercent: t.DriverProfitPercent,
		Aggregates:          string(agg),
		DriverOwesMinor:     t.Aggregates.DriverOwes.AmountMinor,
		Version:             t.Version,
		CreatedAt:           formatTime(t.CreatedAt),
		CompletedAt:         formatTimePtr(t.CompletedAt),
		CancelledAt:         formatTimePtr(t.CancelledAt),
		CancelReason:        t.CancelReason,
	}
	if r := t.ExchangeRateAtClose; r != nil {
		row.RateBase = sql.NullString{String: string(r.Base), Valid: true}
		row.RateQuote = sql.NullString{String: string(r.Quote), Valid: true}
		row.RateMicros = sql.NullInt64{Int64: r.Micros, Valid: true}
		row.RateAsOf = formatTimePtr(&r.AsOf)
		row.RateSource = sql.NullString{String: r.Source, Valid: true}
	}
	return row, nil
}

func rowToTrip(row tripRow) (core.Trip, error) {
	t := core.Trip{
		ID:                  row.ID,
		DriverID:            row.DriverID,
		Status:              core.TripStatus(row.Status),
		FlightType:          core.FlightType(row.FlightType),
		Currency:            core.Currency(row.Currency),
		SecondaryCurrency:   core.Currency(row.SecondaryCurrency),
		DriverProfitPercent: row.DriverProfitPercent,
		Version:             row.Version,
		CancelReason:        row.CancelReason,
	}
	if err := json.Unmarshal([]byte(row.Aggregates), &t.Aggregates); err != nil {
		return t, fmt.Errorf("decode aggregates of %s: %w", row.ID, err)
	}
	var err error
	if t.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return t, fmt.Errorf("trip %s created_at: %w", row.ID, err)
	}
	if t.CompletedAt, err = parseTimePtr(row.CompletedAt); err != nil {
		return t, fmt.Errorf("trip %s completed_at: %w", row.ID, err)
	}
	if t.CancelledAt, err = parseTimePtr(row.CancelledAt); err != nil {
		return t, fmt.Errorf("trip %s cancelled_at: %w", row.ID, err)
	}
	if row.RateMicros.Valid {
		r := core.Rate{
			Base:   core.Currency(row.RateBase.String),
			Quote:  core.Currency(row.RateQuote.String),
			Micros: row.RateMicros.Int64,
			Source: row.RateSource.String,
		}
		asOf, err := parseTimePtr(row.RateAsOf)
		if err != nil {
			return t, fmt.Errorf("trip %s rate_as_of: %w", row.ID, err)
		}
		if asOf != nil {
			r.AsOf = *asOf
		}
		t.ExchangeRateAtClose = &r
	}
	return t, nil
}

func legToRow(tripID string, idx int, l core.Leg) legRow {
	return legRow{
		TripID:               tripID,
		Idx:                  int64(idx),
		FromCity:             l.FromCity,
		ToCity:               l.ToCity,
		PaymentMinor:         l.Payment.AmountMinor,
		GivenBudgetMinor:     l.GivenBudget.AmountMinor,
		PreviousBalanceMinor: l.PreviousBalance.AmountMinor,
		TotalBudgetMinor:     l.TotalBudget.AmountMinor,
		SpentAmountMinor:     l.SpentAmount.AmountMinor,
		BalanceMinor:         l.Balance.AmountMinor,
		Status:               string(l.Status),
		CompletedAt:          formatTimePtr(l.CompletedAt),
	}
}

func rowToLeg(row legRow, c core.Currency) (core.Leg, error) {
	l := core.Leg{
		Index:           int(row.Idx),
		FromCity:        row.FromCity,
		ToCity:          row.ToCity,
		Payment:         core.NewMoney(row.PaymentMinor, c),
		GivenBudget:     core.NewMoney(row.GivenBudgetMinor, c),
		PreviousBalance: core.NewMoney(row.PreviousBalanceMinor, c),
		TotalBudget:     core.NewMoney(row.TotalBudgetMinor, c),
		SpentAmount:     core.NewMoney(row.SpentAmountMinor, c),
		Balance:         core.NewMoney(row.BalanceMinor, c),
		Status:          core.LegStatus(row.Status),
	}
	var err error
	if l.CompletedAt, err = parseTimePtr(row.CompletedAt); err != nil {
		return l, fmt.Errorf("leg %d of %s completed_at: %w", row.Idx, row.TripID, err)
	}
	return l, nil
}

func expenseToRow(tripID string, pos int, e core.Expense) expenseRow {
	row := expenseRow{
		ID:          e.ID,
		TripID:      tripID,
		Position:    int64(pos),
		Type:        string(e.Type),
		AmountMinor: e.Amount.AmountMinor,
		Currency:    string(e.Amount.Currency),
		Timing:      string(e.Timing),
		Note:        e.Note,
		CreatedAt:   formatTime(e.CreatedAt),
	}
	if e.OriginalAmount != nil {
		row.OriginalAmountMinor = sql.NullInt64{Int64: e.OriginalAmount.AmountMinor, Valid: true}
		row.OriginalCurrency = sql.NullString{String: string(e.OriginalAmount.Currency), Valid: true}
	}
	if e.LegIndex != nil {
		row.LegIndex = sql.NullInt64{Int64: int64(*e.LegIndex), Valid: true}
	}
	return row
}

func rowToExpense(row expenseRow) (core.Expense, error) {
	e := core.Expense{
		ID:     row.ID,
		Type:   core.ExpenseType(row.Type),
		Amount: core.NewMoney(row.AmountMinor, core.Currency(row.Currency)),
		Timing: core.ExpenseTiming(row.Timing),
		Note:   row.Note,
	}
	if row.OriginalAmountMinor.Valid {
		m := core.NewMoney(row.OriginalAmountMinor.Int64, core.Currency(row.OriginalCurrency.String))
		e.OriginalAmount = &m
	}
	if row.LegIndex.Valid {
		i := int(row.LegIndex.Int64)
		e.LegIndex = &i
	}
	var err error
	if e.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return e, fmt.Errorf("expense %s created_at: %w", row.ID, err)
	}
	return e, nil
}

func paymentToRow(p core.Payment) paymentRow {
	return paymentRow{
		ID:          p.ID,
		TripID:      p.TripID,
		DriverID:    p.DriverID,
		AmountMinor: p.Amount.AmountMinor,
		Currency:    string(p.Amount.Currency),
		PaidAt:      formatTime(p.PaidAt),
		Note:        p.Note,
	}
}

func rowToPayment(row paymentRow) (core.Payment, error) {
	paidAt, err := parseTime(row.PaidAt)
	if err != nil {
		return core.Payment{}, fmt.Errorf("payment %s paid_at: %w", row.ID, err)
	}
	return core.Payment{
		ID:       row.ID,
		TripID:   row.TripID,
		DriverID: row.DriverID,
		Amount:   core.NewMoney(row.AmountMinor, core.Currency(row.Currency)),
		PaidAt:   paidAt,
		Note:     row.Note,
	}, nil
}

func debtApplicationToRow(a core.DebtApplication) debtApplicationRow {
	return debtApplicationRow{
		Key:         a.Key,
		TripID:      a.TripID,
		DriverID:    a.DriverID,
		DebtMinor:   a.Debt.AmountMinor,
		CreditMinor: a.Credit.AmountMinor,
		Currency:    string(a.Debt.Currency),
		AppliedAt:   formatTime(a.AppliedAt),
	}
}

func rowToDebtApplication(row debtApplicationRow) (core.DebtApplication, error) {
	appliedAt, err := parseTime(row.AppliedAt)
	if err != nil {
		return core.DebtApplication{}, fmt.Errorf("debt application %s applied_at: %w", row.Key, err)
	}
	c := core.Currency(row.Currency)
	return core.DebtApplication{
		Key:       row.Key,
		TripID:    row.TripID,
		DriverID:  row.DriverID,
		Debt:      core.NewMoney(row.DebtMinor, c),
		Credit:    core.NewMoney(row.CreditMinor, c),
		AppliedAt: appliedAt,
	}, nil
}

package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL statements of the repository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Drivers

type driverRow struct {
	ID                  string
	Name                string
	Currency            string
	PreviousDebtMinor   int64
	CurrentBalanceMinor int64
	Busy                bool
	CreatedAt           string
	UpdatedAt           string
}

const driverColumns = `id, name, currency, previous_debt_minor, current_balance_minor, busy, created_at, updated_at`

func scanDriver(row interface{ Scan(...any) error }) (driverRow, error) {
	var d driverRow
	err := row.Scan(&d.ID, &d.Name, &d.Currency, &d.PreviousDebtMinor, &d.CurrentBalanceMinor, &d.Busy, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (q *Queries) InsertDriver(ctx context.Context, d driverRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO drivers (`+driverColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Currency, d.PreviousDebtMinor, d.CurrentBalanceMinor, d.Busy, d.CreatedAt, d.UpdatedAt)
	return err
}

func (q *Queries) GetDriver(ctx context.Context, id string) (driverRow, error) {
	return scanDriver(q.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = ?`, id))
}

func (q *Queries) ListDrivers(ctx context.Context) ([]driverRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []driverRow
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateDriver(ctx context.Context, d driverRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE drivers
		SET name = ?, previous_debt_minor = ?, current_balance_minor = ?, busy = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.PreviousDebtMinor, d.CurrentBalanceMinor, d.Busy, d.UpdatedAt, d.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Trips

type tripRow struct {
	ID                  string
	DriverID            string
	Status              string
	FlightType          string
	Currency            string
	SecondaryCurrency   string
	DriverProfitPercent int64
	Aggregates          string
	DriverOwesMinor     int64
	RateBase            sql.NullString
	RateQuote           sql.NullString
	RateMicros          sql.NullInt64
	RateAsOf            sql.NullString
	RateSource          sql.NullString
	Version             int64
	CreatedAt           string
	CompletedAt         sql.NullString
	CancelledAt         sql.NullString
	CancelReason        string
}

const tripColumns = `id, driver_id, status, flight_type, currency, secondary_currency, driver_profit_percent,
	aggregates, driver_owes_minor, rate_base, rate_quote, rate_micros, rate_as_of, rate_source,
	version, created_at, completed_at, cancelled_at, cancel_reason`

func scanTrip(row interface{ Scan(...any) error }) (tripRow, error) {
	var t tripRow
	err := row.Scan(&t.ID, &t.DriverID, &t.Status, &t.FlightType, &t.Currency, &t.SecondaryCurrency,
		&t.DriverProfitPercent, &t.Aggregates, &t.DriverOwesMinor, &t.RateBase, &t.RateQuote,
		&t.RateMicros, &t.RateAsOf, &t.RateSource, &t.Version, &t.CreatedAt, &t.CompletedAt,
		&t.CancelledAt, &t.CancelReason)
	return t, err
}

func (q *Queries) InsertTrip(ctx context.Context, t tripRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO trips (`+tripColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DriverID, t.Status, t.FlightType, t.Currency, t.SecondaryCurrency, t.DriverProfitPercent,
		t.Aggregates, t.DriverOwesMinor, t.RateBase, t.RateQuote, t.RateMicros, t.RateAsOf, t.RateSource,
		t.Version, t.CreatedAt, t.CompletedAt, t.CancelledAt, t.CancelReason)
	return err
}

func (q *Queries) GetTrip(ctx context.Context, id string) (tripRow, error) {
	return scanTrip(q.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id))
}

func (q *Queries) ListTripIDs(ctx context.Context, driverID, status string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id FROM trips
		WHERE (? = '' OR driver_id = ?) AND (? = '' OR status = ?)
		ORDER BY created_at, id`, driverID, driverID, status, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateTripVersioned writes t if the stored version is still expected and
// bumps it. It returns the number of rows changed.
func (q *Queries) UpdateTripVersioned(ctx context.Context, t tripRow, expected int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE trips SET
		status = ?, secondary_currency = ?, driver_profit_percent = ?, aggregates = ?, driver_owes_minor = ?,
		rate_base = ?, rate_quote = ?, rate_micros = ?, rate_as_of = ?, rate_source = ?,
		version = version + 1, completed_at = ?, cancelled_at = ?, cancel_reason = ?
		WHERE id = ? AND version = ?`,
		t.Status, t.SecondaryCurrency, t.DriverProfitPercent, t.Aggregates, t.DriverOwesMinor,
		t.RateBase, t.RateQuote, t.RateMicros, t.RateAsOf, t.RateSource,
		t.CompletedAt, t.CancelledAt, t.CancelReason, t.ID, expected)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) TripExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM trips WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// Legs

type legRow struct {
	TripID               string
	Idx                  int64
	FromCity             string
	ToCity               string
	PaymentMinor         int64
	GivenBudgetMinor     int64
	PreviousBalanceMinor int64
	TotalBudgetMinor     int64
	SpentAmountMinor     int64
	BalanceMinor         int64
	Status               string
	CompletedAt          sql.NullString
}

func (q *Queries) DeleteLegs(ctx context.Context, tripID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM legs WHERE trip_id = ?`, tripID)
	return err
}

func (q *Queries) InsertLeg(ctx context.Context, l legRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO legs (trip_id, idx, from_city, to_city, payment_minor,
		given_budget_minor, previous_balance_minor, total_budget_minor, spent_amount_minor, balance_minor,
		status, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.TripID, l.Idx, l.FromCity, l.ToCity, l.PaymentMinor, l.GivenBudgetMinor, l.PreviousBalanceMinor,
		l.TotalBudgetMinor, l.SpentAmountMinor, l.BalanceMinor, l.Status, l.CompletedAt)
	return err
}

func (q *Queries) ListLegs(ctx context.Context, tripID string) ([]legRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT trip_id, idx, from_city, to_city, payment_minor,
		given_budget_minor, previous_balance_minor, total_budget_minor, spent_amount_minor, balance_minor,
		status, completed_at FROM legs WHERE trip_id = ? ORDER BY idx`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []legRow
	for rows.Next() {
		var l legRow
		if err := rows.Scan(&l.TripID, &l.Idx, &l.FromCity, &l.ToCity, &l.PaymentMinor, &l.GivenBudgetMinor,
			&l.PreviousBalanceMinor, &l.TotalBudgetMinor, &l.SpentAmountMinor, &l.BalanceMinor,
			&l.Status, &l.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Expenses

type expenseRow struct {
	ID                  string
	TripID              string
	Position            int64
	Type                string
	AmountMinor         int64
	Currency            string
	OriginalAmountMinor sql.NullInt64
	OriginalCurrency    sql.NullString
	LegIndex            sql.NullInt64
	Timing              string
	Note                string
	CreatedAt           string
}

func (q *Queries) DeleteExpenses(ctx context.Context, tripID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM expenses WHERE trip_id = ?`, tripID)
	return err
}

func (q *Queries) InsertExpense(ctx context.Context, e expenseRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO expenses (id, trip_id, position, type, amount_minor, currency,
		original_amount_minor, original_currency, leg_index, timing, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TripID, e.Position, e.Type, e.AmountMinor, e.Currency, e.OriginalAmountMinor,
		e.OriginalCurrency, e.LegIndex, e.Timing, e.Note, e.CreatedAt)
	return err
}

func (q *Queries) ListExpenses(ctx context.Context, tripID string) ([]expenseRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, trip_id, position, type, amount_minor, currency,
		original_amount_minor, original_currency, leg_index, timing, note, created_at
		FROM expenses WHERE trip_id = ? ORDER BY position`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []expenseRow
	for rows.Next() {
		var e expenseRow
		if err := rows.Scan(&e.ID, &e.TripID, &e.Position, &e.Type, &e.AmountMinor, &e.Currency,
			&e.OriginalAmountMinor, &e.OriginalCurrency, &e.LegIndex, &e.Timing, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Payments

type paymentRow struct {
	ID          string
	TripID      string
	DriverID    string
	AmountMinor int64
	Currency    string
	PaidAt      string
	Note        string
}

// InsertPayment is idempotent on the payment id; payments are never
// updated or deleted.
func (q *Queries) InsertPayment(ctx context.Context, p paymentRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO payments (id, trip_id, driver_id, amount_minor, currency, paid_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		p.ID, p.TripID, p.DriverID, p.AmountMinor, p.Currency, p.PaidAt, p.Note)
	return err
}

func (q *Queries) ListPayments(ctx context.Context, tripID string) ([]paymentRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT id, trip_id, driver_id, amount_minor, currency, paid_at, note
		FROM payments WHERE trip_id = ? ORDER BY rowid`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []paymentRow
	for rows.Next() {
		var p paymentRow
		if err := rows.Scan(&p.ID, &p.TripID, &p.DriverID, &p.AmountMinor, &p.Currency, &p.PaidAt, &p.Note); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Debt applications

type debtApplicationRow struct {
	Key         string
	TripID      string
	DriverID    string
	DebtMinor   int64
	CreditMinor int64
	Currency    string
	AppliedAt   string
}

func (q *Queries) DebtApplicationExists(ctx context.Context, tripID string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM debt_applications WHERE trip_id = ?`, tripID).Scan(&n)
	return n > 0, err
}

func (q *Queries) InsertDebtApplication(ctx context.Context, a debtApplicationRow) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO debt_applications (key, trip_id, driver_id, debt_minor, credit_minor, currency, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Key, a.TripID, a.DriverID, a.DebtMinor, a.CreditMinor, a.Currency, a.AppliedAt)
	return err
}

func (q *Queries) ListDebtApplications(ctx context.Context, driverID string) ([]debtApplicationRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT key, trip_id, driver_id, debt_minor, credit_minor, currency, applied_at
		FROM debt_applications WHERE (? = '' OR driver_id = ?) ORDER BY applied_at, key`, driverID, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []debtApplicationRow
	for rows.Next() {
		var a debtApplicationRow
		if err := rows.Scan(&a.Key, &a.TripID, &a.DriverID, &a.DebtMinor, &a.CreditMinor, &a.Currency, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

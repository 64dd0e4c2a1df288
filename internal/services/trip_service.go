package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleetledger/internal/amqp"
	"fleetledger/internal/core"
	"fleetledger/internal/currency"
	"fleetledger/internal/debt"
	"fleetledger/internal/ledger"
	"fleetledger/internal/lifecycle"
	"fleetledger/internal/metrics"
	"fleetledger/internal/storage"
)

// EventPublisher hands lifecycle events to the broker.
type EventPublisher interface {
	PublishTripEvent(ctx context.Context, msg *amqp.TripEvent) error
}

// RateResolver resolves exchange rates. *currency.Resolver implements it.
type RateResolver interface {
	Preview(ctx context.Context, base, quote core.Currency) (core.Rate, error)
	Live(ctx context.Context, base, quote core.Currency) (core.Rate, error)
}

var _ RateResolver = (*currency.Resolver)(nil)

// TripService orchestrates trip edits, settlement and driver debt across
// storage, rates and the event broker. Every write recomputes the trip
// before it is persisted.
type TripService struct {
	store     storage.Store
	rates     RateResolver
	publisher EventPublisher
	metrics   *metrics.Metrics

	now   func() time.Time
	newID func() string
}

// NewTripService creates the service. rates, publisher and m may be nil.
func NewTripService(store storage.Store, rates RateResolver, publisher EventPublisher, m *metrics.Metrics) *TripService {
	return &TripService{
		store:     store,
		rates:     rates,
		publisher: publisher,
		metrics:   m,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *TripService) WithClock(now func() time.Time) *TripService {
	s.now = now
	return s
}

func (s *TripService) clock() time.Time {
	return s.now().UTC()
}

// NewLeg holds the caller-supplied fields of a leg. Amounts are minor units
// of the trip currency.
type NewLeg struct {
	FromCity    string `json:"from_city"`
	ToCity      string `json:"to_city"`
	Payment     int64  `json:"payment"`
	GivenBudget int64  `json:"given_budget"`
}

func (l NewLeg) build(index int, c core.Currency) (core.Leg, error) {
	leg := core.Leg{
		Index:       index,
		FromCity:    strings.TrimSpace(l.FromCity),
		ToCity:      strings.TrimSpace(l.ToCity),
		Payment:     core.NewMoney(l.Payment, c),
		GivenBudget: core.NewMoney(l.GivenBudget, c),
		Status:      core.LegPending,
	}
	return leg, leg.Validate(c)
}

// StartTripRequest opens a trip for a driver.
type StartTripRequest struct {
	DriverID            string          `json:"driver_id"`
	FlightType          core.FlightType `json:"flight_type"`
	Currency            core.Currency   `json:"currency"`
	SecondaryCurrency   core.Currency   `json:"secondary_currency,omitempty"`
	DriverProfitPercent int64           `json:"driver_profit_percent"`
	Legs                []NewLeg        `json:"legs"`
}

// NewExpense is an expense as entered. Amount may be in a currency other
// than the trip's; it is converted at the preview rate on entry.
type NewExpense struct {
	Type     core.ExpenseType   `json:"type"`
	Amount   core.Money         `json:"amount"`
	LegIndex *int               `json:"leg_index,omitempty"`
	Timing   core.ExpenseTiming `json:"timing"`
	Note     string             `json:"note,omitempty"`
}

// NewPayment is a driver payment against a completed trip. A zero PaidAt
// means now.
type NewPayment struct {
	Amount core.Money `json:"amount"`
	Note   string     `json:"note,omitempty"`
	PaidAt time.Time  `json:"paid_at,omitempty"`
}

// CompleteRequest configures a trip completion. Rate overrides the live
// lookup for international trips.
type CompleteRequest struct {
	Override bool       `json:"override"`
	Rate     *core.Rate `json:"rate,omitempty"`
}

// TripView is a trip with its figures in the secondary currency. For
// completed trips they use the rate frozen at close; for active trips they
// use the preview rate and Preliminary is set.
type TripView struct {
	Trip        core.Trip        `json:"trip"`
	Secondary   *core.Aggregates `json:"secondary,omitempty"`
	Rate        *core.Rate       `json:"rate,omitempty"`
	Preliminary bool             `json:"preliminary"`
}

// RegisterDriver creates a driver account with an empty balance.
func (s *TripService) RegisterDriver(ctx context.Context, name string, c core.Currency) (core.DriverAccount, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.DriverAccount{}, core.NewValidationError("name", "driver name is required")
	}
	if len(name) > 100 {
		return core.DriverAccount{}, core.NewValidationError("name", "name too long (max 100 characters)")
	}
	if !c.Valid() {
		return core.DriverAccount{}, core.NewValidationError("currency", "unsupported currency %q", string(c))
	}

	now := s.clock()
	acc := core.DriverAccount{
		ID:             s.newID(),
		Name:           name,
		Currency:       c,
		PreviousDebt:   core.Zero(c),
		CurrentBalance: core.Zero(c),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateDriver(ctx, acc); err != nil {
		return core.DriverAccount{}, fmt.Errorf("create driver: %w", err)
	}
	slog.InfoContext(ctx, "Driver registered", "driver_id", acc.ID, "currency", c)
	return acc, nil
}

func (s *TripService) GetDriver(ctx context.Context, id string) (core.DriverAccount, error) {
	return s.store.GetDriver(ctx, id)
}

func (s *TripService) ListDrivers(ctx context.Context) ([]core.DriverAccount, error) {
	return s.store.ListDrivers(ctx)
}

// StartTrip opens an active trip. The driver must be free and the trip must
// be kept in the driver's account currency.
func (s *TripService) StartTrip(ctx context.Context, req StartTripRequest) (core.Trip, error) {
	now := s.clock()
	t := core.Trip{
		ID:                  s.newID(),
		DriverID:            strings.TrimSpace(req.DriverID),
		Status:              core.TripActive,
		FlightType:          req.FlightType,
		Currency:            req.Currency,
		DriverProfitPercent: req.DriverProfitPercent,
		CreatedAt:           now,
	}
	if req.FlightType == core.International {
		t.SecondaryCurrency = req.SecondaryCurrency
	}
	if err := t.Validate(); err != nil {
		return core.Trip{}, err
	}
	for i, nl := range req.Legs {
		leg, err := nl.build(i, t.Currency)
		if err != nil {
			return core.Trip{}, err
		}
		t.Legs = append(t.Legs, leg)
	}

	var out core.Trip
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		acc, err := repo.GetDriver(ctx, t.DriverID)
		if err != nil {
			return err
		}
		if acc.Currency != t.Currency {
			return core.NewValidationError("currency", "trip currency %s does not match driver account currency %s", t.Currency, acc.Currency)
		}
		if acc.Busy {
			return core.NewStateError(core.InvariantDriverAvailable, "driver %s already has an active trip", acc.ID)
		}
		out, err = repo.CreateTrip(ctx, ledger.Recompute(t))
		if err != nil {
			return err
		}
		acc.Busy = true
		acc.UpdatedAt = now
		return repo.UpdateDriver(ctx, acc)
	})
	if err != nil {
		return core.Trip{}, err
	}

	s.metrics.TripStarted()
	slog.InfoContext(ctx, "Trip started",
		"trip_id", out.ID,
		"driver_id", out.DriverID,
		"flight_type", out.FlightType,
		"legs", len(out.Legs))
	s.publish(ctx, amqp.EventTripStarted, out, nil)
	return out, nil
}

func (s *TripService) GetTrip(ctx context.Context, id string) (core.Trip, error) {
	return s.store.GetTrip(ctx, id)
}

func (s *TripService) ListTrips(ctx context.Context, f storage.TripFilter) ([]core.Trip, error) {
	return s.store.ListTrips(ctx, f)
}

// edit applies fn to an active trip and persists the recomputed result.
// A positive version must match the stored one.
func (s *TripService) edit(ctx context.Context, tripID string, version int64, fn func(core.Trip) (core.Trip, error)) (core.Trip, error) {
	var out core.Trip
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if err := lifecycle.RequireActive(t); err != nil {
			return err
		}
		next, err := fn(t.Clone())
		if err != nil {
			return err
		}
		if version > 0 {
			next.Version = version
		}
		out, err = repo.UpdateTrip(ctx, ledger.Recompute(next))
		return err
	})
	if err != nil {
		s.noteConflict(err)
		return core.Trip{}, err
	}
	return out, nil
}

func (s *TripService) noteConflict(err error) {
	if errors.Is(err, core.ErrVersionConflict) {
		s.metrics.VersionConflict()
	}
}

// AddLeg appends a pending leg.
func (s *TripService) AddLeg(ctx context.Context, tripID string, version int64, nl NewLeg) (core.Trip, error) {
	return s.edit(ctx, tripID, version, func(t core.Trip) (core.Trip, error) {
		leg, err := nl.build(len(t.Legs), t.Currency)
		if err != nil {
			return t, err
		}
		t.Legs = append(t.Legs, leg)
		return t, nil
	})
}

// UpdateLeg replaces the cities and amounts of the leg at index. Its status
// is kept.
func (s *TripService) UpdateLeg(ctx context.Context, tripID string, version int64, index int, nl NewLeg) (core.Trip, error) {
	return s.edit(ctx, tripID, version, func(t core.Trip) (core.Trip, error) {
		if err := checkLegIndex(t, index); err != nil {
			return t, err
		}
		leg, err := nl.build(index, t.Currency)
		if err != nil {
			return t, err
		}
		leg.Status = t.Legs[index].Status
		leg.CompletedAt = t.Legs[index].CompletedAt
		t.Legs[index] = leg
		return t, nil
	})
}

// CompleteLeg marks the leg at index completed. Completing it again keeps
// the original timestamp.
func (s *TripService) CompleteLeg(ctx context.Context, tripID string, version int64, index int) (core.Trip, error) {
	return s.edit(ctx, tripID, version, func(t core.Trip) (core.Trip, error) {
		if err := checkLegIndex(t, index); err != nil {
			return t, err
		}
		if t.Legs[index].Status == core.LegCompleted {
			return t, nil
		}
		at := s.clock()
		t.Legs[index].Status = core.LegCompleted
		t.Legs[index].CompletedAt = &at
		return t, nil
	})
}

func checkLegIndex(t core.Trip, index int) error {
	if index < 0 || index >= len(t.Legs) {
		return core.NewValidationError("index", "trip %s has no leg %d", t.ID, index)
	}
	return nil
}

// AddExpense records an expense. Amounts in another currency are converted
// into the trip currency at the preview rate and the entered amount is kept
// as OriginalAmount.
func (s *TripService) AddExpense(ctx context.Context, tripID string, version int64, ne NewExpense) (core.Trip, core.Expense, error) {
	if err := ledger.ValidateExpenseType(ne.Type); err != nil {
		return core.Trip{}, core.Expense{}, err
	}
	if err := ne.Amount.Validate(); err != nil {
		return core.Trip{}, core.Expense{}, err
	}

	// Rates are resolved before the transaction so no network call holds
	// the store.
	cur, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return core.Trip{}, core.Expense{}, err
	}
	if err := lifecycle.RequireActive(cur); err != nil {
		return core.Trip{}, core.Expense{}, err
	}

	e := core.Expense{
		ID:        s.newID(),
		Type:      ne.Type,
		Amount:    ne.Amount,
		LegIndex:  ne.LegIndex,
		Timing:    ne.Timing,
		Note:      strings.TrimSpace(ne.Note),
		CreatedAt: s.clock(),
	}
	if e.Timing == "" {
		e.Timing = core.TimingDuring
	}
	if ne.Amount.Currency != cur.Currency {
		converted, err := s.convertEntry(ctx, ne.Amount, cur.Currency)
		if err != nil {
			return core.Trip{}, core.Expense{}, err
		}
		orig := ne.Amount
		e.Amount = converted
		e.OriginalAmount = &orig
	}

	out, err := s.edit(ctx, tripID, version, func(t core.Trip) (core.Trip, error) {
		if e.LegIndex != nil && *e.LegIndex >= len(t.Legs) {
			return t, core.NewValidationError("leg_index", "trip %s has no leg %d", t.ID, *e.LegIndex)
		}
		if err := e.Validate(t.Currency); err != nil {
			return t, err
		}
		t.Expenses = append(t.Expenses, e)
		return t, nil
	})
	if err != nil {
		return core.Trip{}, core.Expense{}, err
	}
	slog.InfoContext(ctx, "Expense added",
		"trip_id", out.ID,
		"expense_id", e.ID,
		"type", e.Type,
		"class", ledger.Classify(e.Type),
		"amount_minor", e.Amount.AmountMinor)
	return out, e, nil
}

func (s *TripService) convertEntry(ctx context.Context, m core.Money, to core.Currency) (core.Money, error) {
	if s.rates == nil {
		return core.Money{}, &core.ConversionError{From: m.Currency, To: to, Reason: "no rate source configured", Err: core.ErrRateUnavailable}
	}
	rate, err := s.rates.Preview(ctx, m.Currency, to)
	if err != nil {
		return core.Money{}, err
	}
	converted, err := currency.Convert(m, to, rate)
	if err != nil {
		return core.Money{}, err
	}
	if !converted.IsPositive() {
		return core.Money{}, core.NewValidationError("amount", "%s converts to zero %s", m, to)
	}
	return converted, nil
}

// RemoveExpense deletes an expense from an active trip.
func (s *TripService) RemoveExpense(ctx context.Context, tripID string, version int64, expenseID string) (core.Trip, error) {
	return s.edit(ctx, tripID, version, func(t core.Trip) (core.Trip, error) {
		for i, e := range t.Expenses {
			if e.ID == expenseID {
				t.Expenses = append(t.Expenses[:i], t.Expenses[i+1:]...)
				return t, nil
			}
		}
		return t, fmt.Errorf("expense %s: %w", expenseID, core.ErrExpenseNotFound)
	})
}

// Preview returns the trip with its secondary-currency figures. A missing
// preview rate is not an error; the view simply has no secondary figures.
func (s *TripService) Preview(ctx context.Context, tripID string) (TripView, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return TripView{}, err
	}
	t = ledger.Recompute(t)
	view := TripView{Trip: t}
	if t.FlightType != core.International {
		return view, nil
	}

	if t.Status == core.TripCompleted {
		sec, err := lifecycle.SecondaryAggregates(t)
		if err != nil {
			return TripView{}, err
		}
		view.Secondary = sec
		view.Rate = t.ExchangeRateAtClose
		return view, nil
	}
	if s.rates == nil {
		return view, nil
	}
	rate, err := s.rates.Preview(ctx, t.SecondaryCurrency, t.Currency)
	if err != nil {
		slog.WarnContext(ctx, "No preview rate for trip", "trip_id", t.ID, "error", err)
		return view, nil
	}
	sec, err := currency.ConvertAggregates(t.Aggregates, t.SecondaryCurrency, rate)
	if err != nil {
		slog.WarnContext(ctx, "Preview conversion failed", "trip_id", t.ID, "error", err)
		return view, nil
	}
	view.Secondary = &sec
	view.Rate = &rate
	view.Preliminary = true
	return view, nil
}

// CompleteTrip settles an active trip. The completion, the driver's debt
// and the debt application record commit in one transaction. International
// trips freeze a live rate, or req.Rate when given.
func (s *TripService) CompleteTrip(ctx context.Context, tripID string, version int64, req CompleteRequest) (core.Trip, error) {
	cur, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return core.Trip{}, err
	}
	opts := lifecycle.CompleteOptions{Override: req.Override, Rate: req.Rate}
	if cur.FlightType == core.International && opts.Rate == nil && cur.Status == core.TripActive {
		if s.rates == nil {
			return core.Trip{}, &core.ConversionError{From: cur.Currency, To: cur.SecondaryCurrency, Reason: "no rate source configured", Err: core.ErrRateUnavailable}
		}
		rate, err := s.rates.Live(ctx, cur.SecondaryCurrency, cur.Currency)
		if err != nil {
			return core.Trip{}, err
		}
		opts.Rate = &rate
	}

	var (
		out core.Trip
		app core.DebtApplication
	)
	err = s.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if version > 0 {
			t.Version = version
		}
		now := s.clock()
		done, err := lifecycle.Complete(t, now, opts)
		if err != nil {
			return err
		}
		acc, err := repo.GetDriver(ctx, done.DriverID)
		if err != nil {
			return err
		}
		acc, app, err = debt.ApplyCompletion(acc, done, now)
		if err != nil {
			return err
		}
		if out, err = repo.UpdateTrip(ctx, done); err != nil {
			return err
		}
		if err := repo.InsertDebtApplication(ctx, app); err != nil {
			return err
		}
		acc.Busy = false
		return repo.UpdateDriver(ctx, acc)
	})
	if err != nil {
		s.noteConflict(err)
		return core.Trip{}, err
	}

	s.metrics.TripCompleted()
	s.metrics.DebtApplied(string(out.Currency), app.Debt.AmountMinor)
	slog.InfoContext(ctx, "Trip completed",
		"trip_id", out.ID,
		"driver_id", out.DriverID,
		"driver_owes_minor", out.Aggregates.DriverOwes.AmountMinor,
		"debt_minor", app.Debt.AmountMinor,
		"credit_minor", app.Credit.AmountMinor)

	sec, err := lifecycle.SecondaryAggregates(out)
	if err != nil {
		slog.WarnContext(ctx, "Secondary figures unavailable", "trip_id", out.ID, "error", err)
	}
	s.publish(ctx, amqp.EventTripCompleted, out, sec)
	return out, nil
}

// CancelTrip cancels an active trip and frees the driver. No debt is
// applied.
func (s *TripService) CancelTrip(ctx context.Context, tripID string, version int64, reason string) (core.Trip, error) {
	var out core.Trip
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if version > 0 {
			t.Version = version
		}
		now := s.clock()
		cancelled, err := lifecycle.Cancel(t, reason, now)
		if err != nil {
			return err
		}
		if out, err = repo.UpdateTrip(ctx, cancelled); err != nil {
			return err
		}
		acc, err := repo.GetDriver(ctx, out.DriverID)
		if err != nil {
			return err
		}
		acc.Busy = false
		acc.UpdatedAt = now
		return repo.UpdateDriver(ctx, acc)
	})
	if err != nil {
		s.noteConflict(err)
		return core.Trip{}, err
	}
	s.metrics.TripCancelled()
	slog.InfoContext(ctx, "Trip cancelled", "trip_id", out.ID, "driver_id", out.DriverID, "reason", out.CancelReason)
	return out, nil
}

// RecordPayment records a driver payment against a completed trip and
// retires it from the driver's debt.
func (s *TripService) RecordPayment(ctx context.Context, tripID string, np NewPayment) (core.Trip, core.DriverAccount, error) {
	p := core.Payment{
		ID:     s.newID(),
		Amount: np.Amount,
		PaidAt: np.PaidAt.UTC(),
		Note:   strings.TrimSpace(np.Note),
	}
	if np.PaidAt.IsZero() {
		p.PaidAt = s.clock()
	}

	var (
		trip core.Trip
		acc  core.DriverAccount
	)
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		t, err := repo.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		a, err := repo.GetDriver(ctx, t.DriverID)
		if err != nil {
			return err
		}
		t, a, err = debt.ApplyPayment(t, a, p)
		if err != nil {
			return err
		}
		if trip, err = repo.UpdateTrip(ctx, t); err != nil {
			return err
		}
		acc = a
		return repo.UpdateDriver(ctx, a)
	})
	if err != nil {
		s.noteConflict(err)
		return core.Trip{}, core.DriverAccount{}, err
	}

	s.metrics.PaymentRecorded(string(p.Amount.Currency), p.Amount.AmountMinor)
	slog.InfoContext(ctx, "Driver payment recorded",
		"trip_id", trip.ID,
		"driver_id", acc.ID,
		"amount_minor", p.Amount.AmountMinor,
		"remaining_minor", trip.Aggregates.DriverRemainingDebt.AmountMinor,
		"status", trip.Aggregates.DriverPaymentStatus)
	return trip, acc, nil
}

// DriverBalance summarises a driver's debt from one consistent snapshot.
func (s *TripService) DriverBalance(ctx context.Context, driverID string) (debt.Balance, error) {
	var b debt.Balance
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		acc, trips, apps, err := loadDriverHistory(ctx, repo, driverID)
		if err != nil {
			return err
		}
		b = debt.Summarize(acc, trips, apps)
		return nil
	})
	return b, err
}

// DriverStatement returns the account and its trips for statement rendering.
func (s *TripService) DriverStatement(ctx context.Context, driverID string) (core.DriverAccount, []core.Trip, debt.Balance, error) {
	var (
		acc   core.DriverAccount
		trips []core.Trip
		b     debt.Balance
	)
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		var (
			apps []core.DebtApplication
			err  error
		)
		acc, trips, apps, err = loadDriverHistory(ctx, repo, driverID)
		if err != nil {
			return err
		}
		b = debt.Summarize(acc, trips, apps)
		return nil
	})
	return acc, trips, b, err
}

// Reconcile checks the conservation of driver debt for one driver, or for
// every driver when driverID is empty.
func (s *TripService) Reconcile(ctx context.Context, driverID string) ([]debt.Report, error) {
	var reports []debt.Report
	err := s.store.InTx(ctx, func(repo storage.Repository) error {
		ids := []string{driverID}
		if driverID == "" {
			drivers, err := repo.ListDrivers(ctx)
			if err != nil {
				return err
			}
			ids = ids[:0]
			for _, d := range drivers {
				ids = append(ids, d.ID)
			}
		}
		for _, id := range ids {
			acc, trips, apps, err := loadDriverHistory(ctx, repo, id)
			if err != nil {
				return err
			}
			reports = append(reports, debt.Reconcile(acc, trips, apps))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range reports {
		s.metrics.ReconcileDrift(r.DriverID, r.Drift.AmountMinor)
		if !r.OK() {
			slog.WarnContext(ctx, "Driver ledger drift",
				"driver_id", r.DriverID,
				"drift_minor", r.Drift.AmountMinor,
				"credit_drift_minor", r.CreditDrift.AmountMinor,
				"problems", len(r.Problems))
		}
	}
	return reports, nil
}

func loadDriverHistory(ctx context.Context, repo storage.Repository, driverID string) (core.DriverAccount, []core.Trip, []core.DebtApplication, error) {
	acc, err := repo.GetDriver(ctx, driverID)
	if err != nil {
		return core.DriverAccount{}, nil, nil, err
	}
	trips, err := repo.ListTrips(ctx, storage.TripFilter{DriverID: driverID})
	if err != nil {
		return core.DriverAccount{}, nil, nil, fmt.Errorf("list trips: %w", err)
	}
	apps, err := repo.ListDebtApplications(ctx, driverID)
	if err != nil {
		return core.DriverAccount{}, nil, nil, fmt.Errorf("list debt applications: %w", err)
	}
	return acc, trips, apps, nil
}

// publish sends a lifecycle event after commit. Failures are logged only;
// the ledger write already succeeded.
func (s *TripService) publish(ctx context.Context, event string, t core.Trip, secondary *core.Aggregates) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No event publisher, skipping event", "event", event, "trip_id", t.ID)
		return
	}
	err := s.publisher.PublishTripEvent(ctx, amqp.NewTripEvent(event, t, secondary))
	s.metrics.EventPublished(event, err)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to publish trip event",
			"event", event,
			"trip_id", t.ID,
			"error", err)
	}
}

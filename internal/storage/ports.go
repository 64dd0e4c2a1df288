package storage

import (
	"context"

	"fleetledger/internal/core"
)

// TripFilter narrows ListTrips. Zero fields match everything.
type TripFilter struct {
	DriverID string
	Status   core.TripStatus
}

// Match reports whether t passes the filter.
func (f TripFilter) Match(t core.Trip) bool {
	if f.DriverID != "" && t.DriverID != f.DriverID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// DriverStore persists driver accounts.
type DriverStore interface {
	CreateDriver(ctx context.Context, d core.DriverAccount) error
	GetDriver(ctx context.Context, id string) (core.DriverAccount, error)
	ListDrivers(ctx context.Context) ([]core.DriverAccount, error)
	UpdateDriver(ctx context.Context, d core.DriverAccount) error
}

// TripStore persists trips together with their legs, expenses and payments.
//
// UpdateTrip is an optimistic write: t.Version must equal the stored
// version, otherwise it fails with a StateError wrapping
// core.ErrVersionConflict. On success the stored version is incremented and
// the returned trip carries it.
type TripStore interface {
	CreateTrip(ctx context.Context, t core.Trip) (core.Trip, error)
	GetTrip(ctx context.Context, id string) (core.Trip, error)
	ListTrips(ctx context.Context, f TripFilter) ([]core.Trip, error)
	UpdateTrip(ctx context.Context, t core.Trip) (core.Trip, error)
}

// DebtStore persists debt applications. A second application for the same
// trip fails with a StateError wrapping core.ErrAlreadyApplied.
type DebtStore interface {
	InsertDebtApplication(ctx context.Context, a core.DebtApplication) error
	ListDebtApplications(ctx context.Context, driverID string) ([]core.DebtApplication, error)
}

// Repository is the full set of persistence operations.
type Repository interface {
	DriverStore
	TripStore
	DebtStore
}

// Store is a Repository that can run a function atomically. Writes made
// through the Repository passed to fn commit together or not at all.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error
	Close() error
}

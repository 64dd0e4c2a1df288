// Package memory is an in-process storage.Store used for development and
// tests. Transactions work on a copy of the state that replaces the
// original only when the function succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fleetledger/internal/core"
	"fleetledger/internal/storage"
)

type state struct {
	drivers map[string]core.DriverAccount
	trips   map[string]core.Trip
	apps    map[string]core.DebtApplication // by trip id
	order   []string                        // trip ids in creation order
}

func newState() *state {
	return &state{
		drivers: make(map[string]core.DriverAccount),
		trips:   make(map[string]core.Trip),
		apps:    make(map[string]core.DebtApplication),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.drivers {
		c.drivers[k] = v
	}
	for k, v := range s.trips {
		c.trips[k] = v.Clone()
	}
	for k, v := range s.apps {
		c.apps[k] = v
	}
	c.order = append([]string(nil), s.order...)
	return c
}

// Store implements storage.Store in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// InTx runs fn against a copy of the store while holding the store lock.
// fn must only use the Repository it is given.
func (s *Store) InTx(_ context.Context, fn func(storage.Repository) error) error {
	return s.run(func(r *txRepo) error { return fn(r) })
}

func (s *Store) run(fn func(r *txRepo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&txRepo{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read(fn func(r *txRepo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txRepo{st: s.st})
}

func (s *Store) CreateDriver(ctx context.Context, d core.DriverAccount) error {
	return s.run(func(r *txRepo) error { return r.CreateDriver(ctx, d) })
}

func (s *Store) GetDriver(ctx context.Context, id string) (d core.DriverAccount, err error) {
	err = s.read(func(r *txRepo) error { d, err = r.GetDriver(ctx, id); return err })
	return d, err
}

func (s *Store) ListDrivers(ctx context.Context) (ds []core.DriverAccount, err error) {
	err = s.read(func(r *txRepo) error { ds, err = r.ListDrivers(ctx); return err })
	return ds, err
}

func (s *Store) UpdateDriver(ctx context.Context, d core.DriverAccount) error {
	return s.run(func(r *txRepo) error { return r.UpdateDriver(ctx, d) })
}

func (s *Store) CreateTrip(ctx context.Context, t core.Trip) (out core.Trip, err error) {
	err = s.run(func(r *txRepo) error { out, err = r.CreateTrip(ctx, t); return err })
	return out, err
}

func (s *Store) GetTrip(ctx context.Context, id string) (t core.Trip, err error) {
	err = s.read(func(r *txRepo) error { t, err = r.GetTrip(ctx, id); return err })
	return t, err
}

func (s *Store) ListTrips(ctx context.Context, f storage.TripFilter) (ts []core.Trip, err error) {
	err = s.read(func(r *txRepo) error { ts, err = r.ListTrips(ctx, f); return err })
	return ts, err
}

func (s *Store) UpdateTrip(ctx context.Context, t core.Trip) (out core.Trip, err error) {
	err = s.run(func(r *txRepo) error { out, err = r.UpdateTrip(ctx, t); return err })
	return out, err
}

func (s *Store) InsertDebtApplication(ctx context.Context, a core.DebtApplication) error {
	return s.run(func(r *txRepo) error { return r.InsertDebtApplication(ctx, a) })
}

func (s *Store) ListDebtApplications(ctx context.Context, driverID string) (as []core.DebtApplication, err error) {
	err = s.read(func(r *txRepo) error { as, err = r.ListDebtApplications(ctx, driverID); return err })
	return as, err
}

// txRepo operates on a state without locking; the Store holds the lock.
type txRepo struct {
	st *state
}

func (r *txRepo) CreateDriver(_ context.Context, d core.DriverAccount) error {
	if _, ok := r.st.drivers[d.ID]; ok {
		return fmt.Errorf("driver %s already exists", d.ID)
	}
	r.st.drivers[d.ID] = d
	return nil
}

func (r *txRepo) GetDriver(_ context.Context, id string) (core.DriverAccount, error) {
	d, ok := r.st.drivers[id]
	if !ok {
		return core.DriverAccount{}, fmt.Errorf("driver %s: %w", id, core.ErrDriverNotFound)
	}
	return d, nil
}

func (r *txRepo) ListDrivers(context.Context) ([]core.DriverAccount, error) {
	out := make([]core.DriverAccount, 0, len(r.st.drivers))
	for _, d := range r.st.drivers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *txRepo) UpdateDriver(_ context.Context, d core.DriverAccount) error {
	if _, ok := r.st.drivers[d.ID]; !ok {
		return fmt.Errorf("driver %s: %w", d.ID, core.ErrDriverNotFound)
	}
	r.st.drivers[d.ID] = d
	return nil
}

func (r *txRepo) CreateTrip(_ context.Context, t core.Trip) (core.Trip, error) {
	if _, ok := r.st.drivers[t.DriverID]; !ok {
		return core.Trip{}, fmt.Errorf("driver %s: %w", t.DriverID, core.ErrDriverNotFound)
	}
	if _, ok := r.st.trips[t.ID]; ok {
		return core.Trip{}, fmt.Errorf("trip %s already exists", t.ID)
	}
	t.Version = 1
	r.st.trips[t.ID] = t.Clone()
	r.st.order = append(r.st.order, t.ID)
	return t, nil
}

func (r *txRepo) GetTrip(_ context.Context, id string) (core.Trip, error) {
	t, ok := r.st.trips[id]
	if !ok {
		return core.Trip{}, fmt.Errorf("trip %s: %w", id, core.ErrTripNotFound)
	}
	return t.Clone(), nil
}

func (r *txRepo) ListTrips(_ context.Context, f storage.TripFilter) ([]core.Trip, error) {
	var out []core.Trip
	for _, id := range r.st.order {
		if t := r.st.trips[id]; f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r *txRepo) UpdateTrip(_ context.Context, t core.Trip) (core.Trip, error) {
	cur, ok := r.st.trips[t.ID]
	if !ok {
		return core.Trip{}, fmt.Errorf("trip %s: %w", t.ID, core.ErrTripNotFound)
	}
	if cur.Version != t.Version {
		return core.Trip{}, &core.StateError{
			Invariant: core.InvariantVersion,
			Message:   fmt.Sprintf("trip %s was modified concurrently (version %d is stale)", t.ID, t.Version),
			Err:       core.ErrVersionConflict,
		}
	}
	t.Version++
	r.st.trips[t.ID] = t.Clone()
	return t, nil
}

func (r *txRepo) InsertDebtApplication(_ context.Context, a core.DebtApplication) error {
	if _, ok := r.st.apps[a.TripID]; ok {
		return &core.StateError{
			Invariant: core.InvariantSingleSettlement,
			Message:   fmt.Sprintf("debt for trip %s has already been applied", a.TripID),
			Err:       core.ErrAlreadyApplied,
		}
	}
	r.st.apps[a.TripID] = a
	return nil
}

func (r *txRepo) ListDebtApplications(_ context.Context, driverID string) ([]core.DebtApplication, error) {
	var out []core.DebtApplication
	for _, a := range r.st.apps {
		if driverID == "" || a.DriverID == driverID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AppliedAt.Equal(out[j].AppliedAt) {
			return out[i].AppliedAt.Before(out[j].AppliedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

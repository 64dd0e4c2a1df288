package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetledger/internal/core"
	"fleetledger/internal/services"
	"fleetledger/internal/storage"
)

type completeTripRequest struct {
	Override bool `json:"override"`
	// Rate is an optional decimal rate, one unit of the secondary currency
	// in the trip currency, used instead of the live lookup.
	Rate string `json:"rate,omitempty"`
}

type cancelTripRequest struct {
	Reason string `json:"reason"`
}

type expenseResponse struct {
	Trip    core.Trip    `json:"trip"`
	Expense core.Expense `json:"expense"`
}

type paymentResponse struct {
	Trip   core.Trip          `json:"trip"`
	Driver core.DriverAccount `json:"driver"`
}

// writeTrip sends a trip with its version as ETag.
func writeTrip(w http.ResponseWriter, status int, t core.Trip) {
	w.Header().Set("ETag", etag(t.Version))
	writeJSON(w, status, t)
}

// handleStartTrip handles POST /api/v1/trips
func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	var req services.StartTripRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := s.trips.StartTrip(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/trips/"+t.ID)
	writeTrip(w, http.StatusCreated, t)
}

// handleListTrips handles GET /api/v1/trips?driver_id=&status=
func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.TripFilter{
		DriverID: strings.TrimSpace(q.Get("driver_id")),
		Status:   core.TripStatus(strings.TrimSpace(q.Get("status"))),
	}
	if f.Status != "" && !f.Status.Valid() {
		badRequest(w, "invalid status "+string(f.Status))
		return
	}
	trips, err := s.trips.ListTrips(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if trips == nil {
		trips = []core.Trip{}
	}
	writeJSON(w, http.StatusOK, trips)
}

// handleGetTrip handles GET /api/v1/trips/{tripID}
func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.trips.GetTrip(r.Context(), chi.URLParam(r, "tripID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusOK, t)
}

// handlePreview handles GET /api/v1/trips/{tripID}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	view, err := s.trips.Preview(r.Context(), chi.URLParam(r, "tripID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(view.Trip.Version))
	writeJSON(w, http.StatusOK, view)
}

// handleAddLeg handles POST /api/v1/trips/{tripID}/legs
func (s *Server) handleAddLeg(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var leg services.NewLeg
	if err := decodeJSON(w, r, &leg, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := s.trips.AddLeg(r.Context(), chi.URLParam(r, "tripID"), version, leg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusCreated, t)
}

// handleUpdateLeg handles PUT /api/v1/trips/{tripID}/legs/{index}
func (s *Server) handleUpdateLeg(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	index, err := parseIndex(r, "index")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var leg services.NewLeg
	if err := decodeJSON(w, r, &leg, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := s.trips.UpdateLeg(r.Context(), chi.URLParam(r, "tripID"), version, index, leg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusOK, t)
}

// handleCompleteLeg handles POST /api/v1/trips/{tripID}/legs/{index}/complete
func (s *Server) handleCompleteLeg(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	index, err := parseIndex(r, "index")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := s.trips.CompleteLeg(r.Context(), chi.URLParam(r, "tripID"), version, index)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusOK, t)
}

// handleAddExpense handles POST /api/v1/trips/{tripID}/expenses
func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req services.NewExpense
	if err := decodeJSON(w, r, &req, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, e, err := s.trips.AddExpense(r.Context(), chi.URLParam(r, "tripID"), version, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(t.Version))
	writeJSON(w, http.StatusCreated, expenseResponse{Trip: t, Expense: e})
}

// handleRemoveExpense handles DELETE /api/v1/trips/{tripID}/expenses/{expenseID}
func (s *Server) handleRemoveExpense(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := s.trips.RemoveExpense(r.Context(), chi.URLParam(r, "tripID"), version, chi.URLParam(r, "expenseID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusOK, t)
}

// handleCompleteTrip handles POST /api/v1/trips/{tripID}/complete
func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req completeTripRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}

	tripID := chi.URLParam(r, "tripID")
	opts := services.CompleteRequest{Override: req.Override}
	if req.Rate != "" {
		cur, err := s.trips.GetTrip(r.Context(), tripID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if cur.FlightType != core.International {
			writeError(w, r, core.NewValidationError("rate", "domestic trips take no exchange rate"))
			return
		}
		rate, err := core.ParseRate(cur.SecondaryCurrency, cur.Currency, req.Rate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		rate.AsOf = time.Now().UTC()
		rate.Source = "manual"
		opts.Rate = &rate
	}

	t, err := s.trips.CompleteTrip(r.Context(), tripID, version, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusOK, t)
}

// handleCancelTrip handles POST /api/v1/trips/{tripID}/cancel
func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	version, err := parseVersion(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req cancelTripRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := s.trips.CancelTrip(r.Context(), chi.URLParam(r, "tripID"), version, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeTrip(w, http.StatusOK, t)
}

// handleRecordPayment handles POST /api/v1/trips/{tripID}/payments
func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req services.NewPayment
	if err := decodeJSON(w, r, &req, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	t, acc, err := s.trips.RecordPayment(r.Context(), chi.URLParam(r, "tripID"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(t.Version))
	writeJSON(w, http.StatusCreated, paymentResponse{Trip: t, Driver: acc})
}

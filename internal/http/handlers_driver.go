package http

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetledger/internal/core"
	"fleetledger/internal/report"
)

type registerDriverRequest struct {
	Name     string        `json:"name"`
	Currency core.Currency `json:"currency"`
}

// handleRegisterDriver handles POST /api/v1/drivers
func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req registerDriverRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	acc, err := s.trips.RegisterDriver(r.Context(), req.Name, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// handleListDrivers handles GET /api/v1/drivers
func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.trips.ListDrivers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if drivers == nil {
		drivers = []core.DriverAccount{}
	}
	writeJSON(w, http.StatusOK, drivers)
}

// handleGetDriver handles GET /api/v1/drivers/{driverID}
func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	acc, err := s.trips.GetDriver(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// handleDriverBalance handles GET /api/v1/drivers/{driverID}/balance
func (s *Server) handleDriverBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.trips.DriverBalance(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleDriverStatement handles GET /api/v1/drivers/{driverID}/statement.xlsx
func (s *Server) handleDriverStatement(w http.ResponseWriter, r *http.Request) {
	acc, trips, balance, err := s.trips.DriverStatement(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Rendered in full first so a failure can still be reported as JSON.
	var buf bytes.Buffer
	err = report.WriteStatement(&buf, report.Statement{
		Account:     acc,
		Trips:       trips,
		Balance:     balance,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAttachment(w, report.ContentType, "statement-"+acc.ID+".xlsx", &buf)
}

// handleReconcile handles GET /api/v1/reconcile. The optional driver_id
// query parameter restricts the check to one driver.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	reports, err := s.trips.Reconcile(r.Context(), r.URL.Query().Get("driver_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok := true
	for _, rep := range reports {
		ok = ok && rep.OK()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      ok,
		"reports": reports,
	})
}

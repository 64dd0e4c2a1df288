package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()

	m.TripStarted()
	m.TripStarted()
	m.TripCompleted()
	m.PaymentRecorded("UZS", 3_000_000)
	m.PaymentRecorded("UZS", 0)
	m.DebtApplied("UZS", 8_000_000)
	m.DebtApplied("UZS", -5)
	m.RateLookup("cache")
	m.RateLookup("live")
	m.RateLookup("live")
	m.EventPublished("trip-completed", errors.New("down"))

	if got := testutil.ToFloat64(m.tripsStarted); got != 2 {
		t.Errorf("trips started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.paymentsRecorded); got != 2 {
		t.Errorf("payments recorded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.paymentsMinor.WithLabelValues("UZS")); got != 3_000_000 {
		t.Errorf("payment amount = %v", got)
	}
	if got := testutil.ToFloat64(m.debtApplied.WithLabelValues("UZS")); got != 8_000_000 {
		t.Errorf("debt applied = %v", got)
	}
	if got := testutil.ToFloat64(m.rateLookups.WithLabelValues("live")); got != 2 {
		t.Errorf("live lookups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.eventsPublished.WithLabelValues("trip-completed", "error")); got != 1 {
		t.Errorf("failed publishes = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TripStarted()
	m.TripCompleted()
	m.TripCancelled()
	m.PaymentRecorded("UZS", 1)
	m.DebtApplied("UZS", 1)
	m.RateLookup("live")
	m.ReconcileDrift("d1", 3)
	m.VersionConflict()
	m.EventPublished("trip-started", nil)
	m.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	if m.Registry() != nil {
		t.Fatal("nil metrics returned a registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ReconcileDrift("d1", 42)
	m.ObserveHTTP("GET", "/trips/{tripID}", 200, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`fleetledger_reconcile_drift_minor{driver_id="d1"} 42`,
		`fleetledger_http_requests_total{method="GET",route="/trips/{tripID}",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

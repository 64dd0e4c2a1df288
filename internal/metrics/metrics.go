// Package metrics exposes ledger counters in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetledger"

type Metrics struct {
	registry *prometheus.Registry

	tripsStarted     prometheus.Counter
	tripsCompleted   prometheus.Counter
	tripsCancelled   prometheus.Counter
	paymentsRecorded prometheus.Counter
	paymentsMinor    *prometheus.CounterVec
	debtApplied      *prometheus.CounterVec
	rateLookups      *prometheus.CounterVec
	reconcileDrift   *prometheus.GaugeVec
	versionConflicts prometheus.Counter
	eventsPublished  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the ledger metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		tripsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trips_started_total",
			Help: "Trips created.",
		}),
		tripsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trips_completed_total",
			Help: "Trips settled and completed.",
		}),
		tripsCancelled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "trips_cancelled_total",
			Help: "Trips cancelled without settlement.",
		}),
		paymentsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_recorded_total",
			Help: "Driver payments recorded.",
		}),
		paymentsMinor: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_amount_minor_total",
			Help: "Sum of recorded driver payments in minor units.",
		}, []string{"currency"}),
		debtApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "debt_applied_minor_total",
			Help: "Liability folded into driver accounts at completion, in minor units.",
		}, []string{"currency"}),
		rateLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_lookups_total",
			Help: "Exchange-rate resolutions by the layer that answered.",
		}, []string{"source"}),
		reconcileDrift: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reconcile_drift_minor",
			Help: "Difference between stored and recomputed driver debt at the last reconciliation.",
		}, []string{"driver_id"}),
		versionConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "version_conflicts_total",
			Help: "Trip writes rejected by the optimistic version check.",
		}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Lifecycle events handed to the broker, by outcome.",
		}, []string{"event", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TripStarted() {
	if m != nil {
		m.tripsStarted.Inc()
	}
}

func (m *Metrics) TripCompleted() {
	if m != nil {
		m.tripsCompleted.Inc()
	}
}

func (m *Metrics) TripCancelled() {
	if m != nil {
		m.tripsCancelled.Inc()
	}
}

func (m *Metrics) PaymentRecorded(currency string, amountMinor int64) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
	if amountMinor > 0 {
		m.paymentsMinor.WithLabelValues(currency).Add(float64(amountMinor))
	}
}

func (m *Metrics) DebtApplied(currency string, amountMinor int64) {
	if m != nil && amountMinor > 0 {
		m.debtApplied.WithLabelValues(currency).Add(float64(amountMinor))
	}
}

// RateLookup implements currency.Observer.
func (m *Metrics) RateLookup(source string) {
	if m != nil {
		m.rateLookups.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ReconcileDrift(driverID string, driftMinor int64) {
	if m != nil {
		m.reconcileDrift.WithLabelValues(driverID).Set(float64(driftMinor))
	}
}

func (m *Metrics) VersionConflict() {
	if m != nil {
		m.versionConflicts.Inc()
	}
}

func (m *Metrics) EventPublished(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.eventsPublished.WithLabelValues(event, outcome).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Package http serves the ledger's JSON API.
package http

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	applog "fleetledger/internal/log"
	"fleetledger/internal/metrics"
	"fleetledger/internal/middleware/ratelimit"
	"fleetledger/internal/middleware/security"
	"fleetledger/internal/services"
)

// Options configures the optional parts of the server.
type Options struct {
	CORSAllowedOrigins []string
	// RateLimitPerMinute caps write requests per client IP. Zero disables
	// the limiter.
	RateLimitPerMinute int
	Metrics            *metrics.Metrics
	Logger             *applog.Logger
	// Ready reports whether dependencies can serve traffic; nil is always
	// ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	trips   *services.TripService
	metrics *metrics.Metrics
	logger  *applog.Logger
	access  *applog.StructuredLogger
	limiter *ratelimit.Limiter
	ready   func(context.Context) error

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, trips *services.TripService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		trips:   trips,
		metrics: opts.Metrics,
		logger:  logger,
		access:  applog.NewStructuredLogger(logger),
		ready:   opts.Ready,
	}
	if opts.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	}
	s.Handler = s.routes(opts.CORSAllowedOrigins)
	return s
}

func (s *Server) routes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(applog.Middleware(s.logger))
	r.Use(applog.RequestIDMiddleware(func(r *http.Request) string {
		return chimw.GetReqID(r.Context())
	}))
	r.Use(s.observe)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "If-Match", "X-Request-Id"},
		ExposedHeaders:   []string{"ETag", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware(extractClientIP, func(w http.ResponseWriter, r *http.Request) {
				writeAPIError(w, http.StatusTooManyRequests, APIError{Code: CodeRateLimited, Message: "rate limit exceeded, please try again later"})
			}))
		}

		r.Route("/drivers", func(r chi.Router) {
			r.Post("/", s.handleRegisterDriver)
			r.Get("/", s.handleListDrivers)
			r.Get("/{driverID}", s.handleGetDriver)
			r.Get("/{driverID}/balance", s.handleDriverBalance)
			r.Get("/{driverID}/statement.xlsx", s.handleDriverStatement)
		})

		r.Route("/trips", func(r chi.Router) {
			r.Post("/", s.handleStartTrip)
			r.Get("/", s.handleListTrips)
			r.Route("/{tripID}", func(r chi.Router) {
				r.Get("/", s.handleGetTrip)
				r.Get("/preview", s.handlePreview)
				r.Post("/legs", s.handleAddLeg)
				r.Put("/legs/{index}", s.handleUpdateLeg)
				r.Post("/legs/{index}/complete", s.handleCompleteLeg)
				r.Post("/expenses", s.handleAddExpense)
				r.Delete("/expenses/{expenseID}", s.handleRemoveExpense)
				r.Post("/complete", s.handleCompleteTrip)
				r.Post("/cancel", s.handleCancelTrip)
				r.Post("/payments", s.handleRecordPayment)
			})
		})

		r.Get("/reconcile", s.handleReconcile)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, APIError{Code: CodeNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusMethodNotAllowed, APIError{Code: CodeBadRequest, Message: "method not allowed"})
	})
	return r
}

// observe logs every request and records it in the HTTP metrics under its
// route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		if route == "/healthz" || route == "/metrics" {
			return
		}
		s.access.LogHTTPEnd(r.Context(), r, status, elapsed.Milliseconds(), extractClientIP(r))
	})
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// writeAttachment sends a fully rendered file.
func writeAttachment(w http.ResponseWriter, contentType, filename string, body *bytes.Buffer) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = body.WriteTo(w)
}

// Package api serves the batchflow admin HTTP API on a chi router.
//
// Time zone names contain a slash and must be path-escaped in URLs, e.g.
// /v1/timezones/Asia%2FTokyo/groups.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/batchflow/engine"
	"github.com/xraph/batchflow/stream"
)

// Default and maximum page sizes of list endpoints.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// API wires the HTTP handlers to a Scheduler.
type API struct {
	s        *engine.Scheduler
	gatherer prometheus.Gatherer
	broker   *stream.Broker
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an API.
type Option func(*API)

// WithGatherer sets the registry served on /metrics. Defaults to
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *API) { a.gatherer = g }
}

// WithBroker serves the broker's lifecycle events on /v1/events. The
// broker must also be registered as an extension of the scheduler.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithClock overrides the time source used for manual triggers without
// an explicit time.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates an API for s.
func New(s *engine.Scheduler, opts ...Option) *API {
	a := &API{
		s:        s,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every route on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		a.registerTimeZoneRoutes(r)
		a.registerRunRoutes(r)
		a.registerJobRoutes(r)
		r.Get("/stats", a.stats)
		if a.broker != nil {
			r.Get("/events", a.events)
		}
	})
}

func (a *API) registerTimeZoneRoutes(r chi.Router) {
	r.Get("/timezones", a.listTimeZones)
	r.Route("/timezones/{tz}", func(r chi.Router) {
		r.Get("/groups", a.listGroups)
		r.Get("/groups/{name}", a.getGroup)
		r.Get("/groups/{name}/next", a.nextOccurrences)
		r.Post("/trigger", a.trigger)
	})
}

func (a *API) registerRunRoutes(r chi.Router) {
	r.Get("/runs", a.listRuns)
	r.Get("/runs/{runID}", a.getRun)
	r.Get("/runs/{runID}/jobs", a.listRunJobs)
}

func (a *API) registerJobRoutes(r chi.Router) {
	r.Get("/jobs/{jobID}", a.getJob)
	r.Post("/jobs/{jobID}/resume", a.resumeJob)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.s.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

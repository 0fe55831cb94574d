package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	cronlib "github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/ext"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/manager"
	mw "github.com/xraph/batchflow/middleware"
	"github.com/xraph/batchflow/observability"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/store"
	"github.com/xraph/batchflow/throttle"
)

const instrumentationName = "github.com/xraph/batchflow"

// Scheduler owns the per time zone managers and the tick that drives them.
type Scheduler struct {
	cfg        batchflow.Config
	store      store.Store
	handlers   *handler.Registry
	extensions *ext.Registry
	exts       []ext.Extension
	promReg    prometheus.Registerer
	throttle   *throttle.Manager
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	zones    []string
	managers map[string]*manager.Manager

	cron    *cronlib.Cron
	entries map[string]cronlib.EntryID

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig sets the engine tunables. Defaults to batchflow.DefaultConfig.
// The occurrence cache limits in cfg are not applied here; they belong to
// the groups in the store.
func WithConfig(cfg batchflow.Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(s *Scheduler) { s.exts = append(s.exts, e) }
}

// WithMiddleware adds middleware to the execution chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(s *Scheduler) { s.mws = append(s.mws, m) }
}

// WithPrometheus registers the Prometheus metrics extension on reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(s *Scheduler) {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		s.promReg = reg
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) { s.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Scheduler) { s.meterProvider = mp }
}

// WithClock overrides the time source used for ticks and calendar
// queries.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a Scheduler with one manager per time zone of st's catalog.
func New(st store.Store, handlers *handler.Registry, opts ...Option) (*Scheduler, error) {
	if st == nil {
		return nil, batchflow.ErrNoStore
	}

	s := &Scheduler{
		cfg:      batchflow.DefaultConfig(),
		store:    st,
		handlers: handlers,
		logger:   slog.Default(),
		now:      time.Now,
		managers: make(map[string]*manager.Manager),
		entries:  make(map[string]cronlib.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handlers == nil {
		s.handlers = handler.NewRegistry()
	}
	s.extensions = ext.NewRegistry(s.logger)
	if s.promReg != nil {
		s.extensions.Register(observability.NewMetricsExtension(s.promReg))
	}
	for _, e := range s.exts {
		s.extensions.Register(e)
	}

	zones, err := st.TimeZones(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load time zones: %w", err)
	}
	sort.Strings(zones)
	s.zones = zones

	if s.cfg.MaxConcurrency > 0 || s.cfg.RateLimit > 0 {
		lanes := make([]throttle.Config, 0, len(zones))
		for _, tz := range zones {
			lanes = append(lanes, throttle.Config{
				Name:           tz,
				MaxConcurrency: s.cfg.MaxConcurrency,
				RateLimit:      s.cfg.RateLimit,
				RateBurst:      s.cfg.RateBurst,
			})
		}
		s.throttle = throttle.NewManager(lanes...)
	}

	chain := s.middleware()
	for _, tz := range zones {
		mopts := []manager.Option{
			manager.WithLogger(s.logger),
			manager.WithExtensions(s.extensions),
			manager.WithMiddleware(chain...),
			manager.WithClock(s.now),
		}
		if s.throttle != nil {
			mopts = append(mopts, manager.WithThrottle(s.throttle))
		}
		m, err := manager.New(tz, st, s.handlers, mopts...)
		if err != nil {
			return nil, err
		}
		s.managers[tz] = m
	}

	s.cron = cronlib.New(
		cronlib.WithLogger(cronLogger{s.logger}),
		cronlib.WithChain(cronlib.SkipIfStillRunning(cronLogger{s.logger})),
	)
	return s, nil
}

// middleware builds the default stack: tracing, metrics, logging and
// timeout, followed by user middleware. Panic recovery is installed by
// each manager.
func (s *Scheduler) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if s.tracerProvider != nil {
		tracing = mw.TracingWithTracer(s.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if s.meterProvider != nil {
		metrics = mw.MetricsWithMeter(s.meterProvider.Meter(instrumentationName))
	}

	out := []mw.Middleware{tracing, metrics, mw.Logging(s.logger), mw.Timeout(s.logger)}
	return append(out, s.mws...)
}

// Start recovers the runs left open by a previous process, then starts
// the one-minute tick of every time zone.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.stopped {
		return batchflow.ErrShuttingDown
	}

	for _, tz := range s.zones {
		n, err := s.managers[tz].Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover %s: %w", tz, err)
		}
		if n > 0 {
			s.logger.Info("recovered open runs", slog.String("timezone", tz), slog.Int("runs", n))
		}
	}

	for _, tz := range s.zones {
		m := s.managers[tz]
		entryID, err := s.cron.AddFunc(tickSpec(tz), func() { s.tick(m) })
		if err != nil {
			return fmt.Errorf("schedule tick for %s: %w", tz, err)
		}
		s.entries[tz] = entryID
	}
	s.cron.Start()
	s.started = true

	s.logger.Info("scheduler started", slog.Int("timezones", len(s.zones)))
	return nil
}

// Stop halts the ticks, then shuts every manager down within the
// configured ShutdownTimeout or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		// Wait for a tick already in progress.
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	var eg errgroup.Group
	for _, m := range s.managers {
		eg.Go(func() error { return m.Shutdown(ctx) })
	}
	err := eg.Wait()

	s.extensions.EmitShutdown(ctx)
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) tick(m *manager.Manager) {
	at := s.now()
	if _, err := m.TriggerRootJobGroups(context.Background(), at); err != nil {
		s.logger.Error("tick failed",
			slog.String("timezone", m.TimeZone()),
			slog.String("error", err.Error()),
		)
	}
}

// tickSpec fires at second zero of every minute in tz.
func tickSpec(tz string) string {
	return "CRON_TZ=" + tz + " * * * * *"
}

// TimeZones returns the managed time zones in lexical order.
func (s *Scheduler) TimeZones() []string {
	return append([]string(nil), s.zones...)
}

// Manager returns the manager of tz.
func (s *Scheduler) Manager(tz string) (*manager.Manager, error) {
	m, ok := s.managers[tz]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no groups", batchflow.ErrUnknownTimeZone, tz)
	}
	return m, nil
}

// Trigger runs a manual tick of tz at the given time.
func (s *Scheduler) Trigger(ctx context.Context, tz string, at time.Time) (int, error) {
	m, err := s.Manager(tz)
	if err != nil {
		return 0, err
	}
	return m.TriggerRootJobGroups(ctx, at)
}

// Resume releases a paused job, routing it to the manager of its run's
// time zone.
func (s *Scheduler) Resume(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.GetGroup(ctx, j.GroupID)
	if err != nil {
		return nil, err
	}
	m, err := s.Manager(run.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotActive, err)
	}
	return m.Resume(ctx, jobID)
}

// NextOccurrences lists the next n occurrences of a group from now.
func (s *Scheduler) NextOccurrences(ctx context.Context, tz, name string, n int) ([]time.Time, error) {
	m, err := s.Manager(tz)
	if err != nil {
		return nil, err
	}
	return m.NextOccurrences(ctx, name, s.now(), n)
}

// Wait blocks until every live run of every zone has closed.
func (s *Scheduler) Wait() {
	for _, m := range s.managers {
		m.Wait()
	}
}

// Store returns the scheduler's store.
func (s *Scheduler) Store() store.Store { return s.store }

// Handlers returns the handler registry.
func (s *Scheduler) Handlers() *handler.Registry { return s.handlers }

// Extensions returns the extension registry.
func (s *Scheduler) Extensions() *ext.Registry { return s.extensions }

// Throttle returns the per time zone throttle, or nil when no limit is
// configured.
func (s *Scheduler) Throttle() *throttle.Manager { return s.throttle }

// ──────────────────────────────────────────────────
// cron logging adapter
// ──────────────────────────────────────────────────

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if err == nil {
		err = errors.New("unknown")
	}
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}

// Package engine wires the batchflow subsystems together and provides the
// application-level Scheduler.
//
// A Scheduler is built once from a store.Store whose catalog lists every
// time zone with at least one group. It creates one manager.Manager per
// zone, builds the shared middleware chain and extension registry, and
// drives the one-minute tick of every zone from a single robfig/cron
// instance.
//
// # Building a Scheduler
//
//	reg := handler.NewRegistry()
//	builtin.Register(reg)
//
//	s, err := engine.New(store.Compose(catalog, pgStore), reg,
//	    engine.WithConfig(batchflow.NewConfig(batchflow.WithMaxConcurrency(8))),
//	    engine.WithPrometheus(prometheus.DefaultRegisterer),
//	    engine.WithLogger(logger),
//	)
//
// # Running
//
//	if err := s.Start(ctx); err != nil { ... }
//	defer s.Stop(context.Background())
//
// Start re-attaches runs left open by a previous process before the first
// tick. Stop halts the ticks and drains in-flight jobs within the
// configured ShutdownTimeout.
//
// # Options
//
//   - [WithConfig] sets the engine tunables
//   - [WithLogger] sets the logger
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the execution chain
//   - [WithPrometheus] registers the Prometheus metrics extension
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
package engine

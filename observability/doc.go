// Package observability provides a Prometheus metrics extension for
// batchflow. The MetricsExtension implements lifecycle hooks to record
// group run, job outcome, pause and tick metrics per time zone.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

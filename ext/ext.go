// Package ext defines the extension system for batchflow.
// Extensions are notified of lifecycle events (group run started, job
// completed, tick fired, etc.) and can react to them: logging, metrics,
// alerting, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/batchflow/queue"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Group run lifecycle hooks
// ──────────────────────────────────────────────────

// GroupStarted is called after a group run is created.
type GroupStarted interface {
	OnGroupStarted(ctx context.Context, run *queue.Group) error
}

// GroupCompleted is called after a group run is closed, finished or error.
type GroupCompleted interface {
	OnGroupCompleted(ctx context.Context, run *queue.Group, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobStarted is called when a job is claimed and its handler is about to run.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *queue.Job) error
}

// JobCompleted is called after a job's result is recorded, whatever its
// status.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *queue.Job, r queue.Result, elapsed time.Duration) error
}

// JobFailed is called when a handler returns an error, panics, or cannot
// be resolved.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *queue.Job, err error) error
}

// JobPaused is called when a job ends with NextStep pause.
type JobPaused interface {
	OnJobPaused(ctx context.Context, j *queue.Job) error
}

// JobResumed is called after an operator resumes a paused job.
type JobResumed interface {
	OnJobResumed(ctx context.Context, j *queue.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// TickFired is called after a time zone's root groups were evaluated for
// a minute. started is the number of group runs the tick created.
type TickFired interface {
	OnTickFired(ctx context.Context, tz string, at time.Time, started int) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

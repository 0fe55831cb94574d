// Package audithook is a batchflow extension that turns lifecycle events
// into an audit trail: which runs started and closed, which jobs failed
// or paused, and which paused jobs an operator resumed.
//
// Events go through the [Recorder] interface. [SlogRecorder] writes them
// as structured log records; other backends plug in with [RecorderFunc].
//
//	audithook.New(audithook.NewSlogRecorder(logger),
//	    audithook.WithActions(audithook.OperatorActions()...),
//	)
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/batchflow/ext"
	"github.com/xraph/batchflow/queue"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.GroupStarted   = (*Extension)(nil)
	_ ext.GroupCompleted = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobPaused      = (*Extension)(nil)
	_ ext.JobResumed     = (*Extension)(nil)
	_ ext.TickFired      = (*Extension)(nil)
	_ ext.Shutdown       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events as log records, at warn level for
// warnings and error level for critical events.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a recorder logging to l under the "audit" group.
func NewSlogRecorder(l *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: l.WithGroup("audit")}
}

// Record implements Recorder.
func (r *SlogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("resource", evt.Resource),
		slog.String("resource_id", evt.ResourceID),
		slog.String("category", evt.Category),
		slog.String("outcome", evt.Outcome),
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	for k, v := range evt.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	r.logger.LogAttrs(ctx, level, "audit event", attrs...)
	return nil
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges batchflow lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Run lifecycle hooks ─────────────────────────────

// OnGroupStarted implements ext.GroupStarted.
func (e *Extension) OnGroupStarted(ctx context.Context, run *queue.Group) error {
	return e.record(ctx, ActionGroupStarted, SeverityInfo, OutcomeSuccess,
		ResourceGroupRun, run.ID.String(), CategoryRun, nil,
		"group", run.JobGroupName,
		"timezone", run.TimeZone,
		"run_date", run.RunDateKey(),
	)
}

// OnGroupCompleted implements ext.GroupCompleted. A run closed in error is
// recorded as a critical failure.
func (e *Extension) OnGroupCompleted(ctx context.Context, run *queue.Group, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if run.RunStatus == queue.StatusError {
		severity, outcome = SeverityCritical, OutcomeFailure
	}
	return e.record(ctx, ActionGroupCompleted, severity, outcome,
		ResourceGroupRun, run.ID.String(), CategoryRun, nil,
		"group", run.JobGroupName,
		"timezone", run.TimeZone,
		"run_date", run.RunDateKey(),
		"status", string(run.RunStatus),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *queue.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.JobName,
		"handler", j.Handler,
		"run_id", j.GroupID.String(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *queue.Job, r queue.Result, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	if r.Status == queue.StatusError {
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionJobCompleted, SeverityInfo, outcome,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.JobName,
		"run_id", j.GroupID.String(),
		"status", string(r.Status),
		"next_step", string(r.NextStep),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *queue.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"job_name", j.JobName,
		"handler", j.Handler,
		"run_id", j.GroupID.String(),
	)
}

// OnJobPaused implements ext.JobPaused.
func (e *Extension) OnJobPaused(ctx context.Context, j *queue.Job) error {
	return e.record(ctx, ActionJobPaused, SeverityWarning, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.JobName,
		"run_id", j.GroupID.String(),
	)
}

// OnJobResumed implements ext.JobResumed.
func (e *Extension) OnJobResumed(ctx context.Context, j *queue.Job) error {
	return e.record(ctx, ActionJobResumed, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.JobName,
		"run_id", j.GroupID.String(),
	)
}

// ── Scheduler hooks ─────────────────────────────────

// OnTickFired implements ext.TickFired. Ticks that started nothing are
// not recorded.
func (e *Extension) OnTickFired(ctx context.Context, tz string, at time.Time, started int) error {
	if started == 0 {
		return nil
	}
	return e.record(ctx, ActionTickFired, SeverityInfo, OutcomeSuccess,
		ResourceTimeZone, tz, CategoryScheduler, nil,
		"at", at.Format(time.RFC3339),
		"started", started,
	)
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionShutdown, SeverityInfo, OutcomeSuccess,
		ResourceScheduler, "", CategoryScheduler, nil)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}

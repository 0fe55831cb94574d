// Package handler defines the contract between the orchestrator and job
// business logic, and the registry that resolves a job's handler
// identifier to an implementation.
package handler

import (
	"context"
	"time"

	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

// Reporter forwards in-flight item counts to the job's run record.
type Reporter interface {
	Add(ctx context.Context, total, finished, errored int64) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, total, finished, errored int64) error

// Add calls f.
func (f ReporterFunc) Add(ctx context.Context, total, finished, errored int64) error {
	return f(ctx, total, finished, errored)
}

// Request carries everything a handler learns about the execution.
type Request struct {
	RunID     id.ID     `json:"run_id"`
	JobID     id.ID     `json:"job_id"`
	GroupName string    `json:"group_name"`
	TimeZone  string    `json:"timezone"`
	RunDate   time.Time `json:"run_date"`

	// Job is the definition being executed.
	Job *group.Job `json:"job"`

	// Progress may be nil.
	Progress Reporter `json:"-"`
}

// Report adds item deltas through the request's Reporter. It is a no-op
// when the request has none.
func (r *Request) Report(ctx context.Context, total, finished, errored int64) error {
	if r.Progress == nil {
		return nil
	}
	return r.Progress.Add(ctx, total, finished, errored)
}

// Name returns the job name, or "" for a request without a definition.
func (r *Request) Name() string {
	if r.Job == nil {
		return ""
	}
	return r.Job.Name
}

// Handler runs one job. A returned error is recorded as a failed job; the
// Result is ignored in that case.
type Handler interface {
	Run(ctx context.Context, req *Request) (queue.Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (queue.Result, error)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, req *Request) (queue.Result, error) {
	return f(ctx, req)
}

// Factory creates the Handler for one execution.
type Factory func() Handler

package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// execute runs a claimed job through the middleware chain and its
// handler, records the outcome, emits lifecycle events and posts the
// completion back to the coordinator. Failures never escape: a handler
// error, a panic or an unknown handler is recorded as an error result.
func (m *Manager) execute(ctx context.Context, c *coordinator, j *queue.Job) {
	start := time.Now()
	res, jobErr := m.run(ctx, c, j)
	elapsed := time.Since(start)

	if jobErr != nil {
		res = queue.Failure(jobErr)
	}
	res = res.Normalize()

	// The outcome is recorded even when shutdown cancelled ctx.
	storeCtx := context.WithoutCancel(ctx)
	if err := m.store.LogJobProgress(storeCtx, j.ID, j.GroupID, res); err != nil {
		m.logger.Error("failed to record job result",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.JobName),
			slog.String("error", err.Error()),
		)
	}
	j.Apply(res, time.Now().UTC())

	switch {
	case res.Status == queue.StatusError:
		if jobErr == nil {
			jobErr = fmt.Errorf("job %s: %s", j.JobName, res.Message.String())
		}
		m.extensions.EmitJobFailed(storeCtx, j, jobErr)
		m.logger.Warn("job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.JobName),
			slog.String("error", jobErr.Error()),
		)
	case res.NextStep == queue.NextPause:
		m.extensions.EmitJobPaused(storeCtx, j)
		m.logger.Info("job paused",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.JobName),
		)
	}
	m.extensions.EmitJobCompleted(storeCtx, j, res, elapsed)

	c.post(event{jobID: j.ID})
}

// run resolves the handler, waits for a throttle slot and invokes the
// middleware chain.
func (m *Manager) run(ctx context.Context, c *coordinator, j *queue.Job) (queue.Result, error) {
	def, ok := c.def.Job(j.JobName)
	if !ok {
		return queue.Result{}, fmt.Errorf("%w: %s has no job %q", batchflow.ErrJobNotFound, c.def.Name, j.JobName)
	}
	factory, err := m.handlers.Resolve(j.Handler)
	if err != nil {
		return queue.Result{}, err
	}

	if m.throttle != nil {
		if err := m.throttle.Acquire(ctx, m.tz); err != nil {
			return queue.Result{}, fmt.Errorf("throttle: %w", err)
		}
		defer m.throttle.Release(m.tz)
	}

	req := &handler.Request{
		RunID:     c.run.ID,
		JobID:     j.ID,
		GroupName: c.run.JobGroupName,
		TimeZone:  c.run.TimeZone,
		RunDate:   c.run.RunDate,
		Job:       def,
		Progress: handler.ReporterFunc(func(ctx context.Context, total, finished, errored int64) error {
			return m.store.AddJobProgress(ctx, j.ID, total, finished, errored)
		}),
	}

	m.extensions.EmitJobStarted(ctx, j)

	terminal := func(ctx context.Context) (queue.Result, error) {
		return factory().Run(ctx, req)
	}
	return m.mw(ctx, req, terminal)
}

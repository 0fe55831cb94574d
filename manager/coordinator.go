package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

const eventBuffer = 64

// event tells a coordinator that a job reached a terminal state or was
// resumed.
type event struct {
	jobID   id.ID
	resumed bool
}

// coordinator owns the dispatch decisions of one run.
type coordinator struct {
	m   *Manager
	def *group.Group
	run *queue.Group

	ctx    context.Context
	events chan event
	done   chan struct{}

	inflight sync.WaitGroup
	started  time.Time
}

func newCoordinator(m *Manager, def *group.Group, run *queue.Group) *coordinator {
	return &coordinator{
		m:       m,
		def:     def,
		run:     run,
		ctx:     m.base,
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		started: time.Now(),
	}
}

// post delivers ev unless the coordinator is gone or the manager is
// stopping.
func (c *coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	case <-c.m.stopping:
	}
}

func (c *coordinator) loop() {
	defer func() {
		close(c.done)
		c.inflight.Wait()
		c.m.detach(c.run.ID)
		c.m.wg.Done()
	}()

	logger := c.m.logger.With(
		slog.String("group", c.run.JobGroupName),
		slog.String("run_id", c.run.ID.String()),
		slog.String("run_date", c.run.RunDateKey()),
	)

	c.dispatchReady(logger)
	if c.finishIfDone(logger) {
		return
	}

	for {
		select {
		case <-c.m.stopping:
			c.drain(logger)
			return
		default:
		}

		select {
		case ev := <-c.events:
			c.dispatchNext(logger, ev)
			if c.finishIfDone(logger) {
				return
			}
		case <-c.m.stopping:
			c.drain(logger)
			return
		}
	}
}

// dispatchReady starts the root jobs, plus the jobs released by
// dependencies that finished while no coordinator was attached.
func (c *coordinator) dispatchReady(logger *slog.Logger) {
	roots, err := c.m.store.RootJobs(c.ctx, c.run.ID)
	if err != nil {
		logger.Error("failed to load root jobs", slog.String("error", err.Error()))
		return
	}
	for _, j := range roots {
		c.dispatch(logger, j)
	}

	jobs, err := c.m.store.ListJobs(c.ctx, c.run.ID)
	if err != nil {
		logger.Error("failed to load jobs", slog.String("error", err.Error()))
		return
	}
	for _, j := range jobs {
		if j.Released() {
			c.dispatchNext(logger, event{jobID: j.ID})
		}
	}
}

// dispatchNext starts the jobs released by ev's job.
func (c *coordinator) dispatchNext(logger *slog.Logger, ev event) {
	if ev.resumed {
		logger.Debug("dispatching after resume", slog.String("job_id", ev.jobID.String()))
	}
	next, err := c.m.store.NextJobs(c.ctx, ev.jobID, c.run.ID)
	if err != nil {
		logger.Error("failed to load next jobs",
			slog.String("job_id", ev.jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, j := range next {
		c.dispatch(logger, j)
	}
}

// dispatch claims j and hands it to a runner. A lost claim means another
// path already started it.
func (c *coordinator) dispatch(logger *slog.Logger, j *queue.Job) {
	ok, err := c.m.store.ClaimJob(c.ctx, j.ID)
	if err != nil {
		logger.Error("failed to claim job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.JobName),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.m.execute(c.ctx, c, j)
	}()
}

// finishIfDone closes the run when no job is left unfinished, then starts
// the dependent groups.
func (c *coordinator) finishIfDone(logger *slog.Logger) bool {
	n, err := c.m.store.CountUnfinishedJobs(c.ctx, c.run.ID)
	if err != nil {
		logger.Error("failed to count unfinished jobs", slog.String("error", err.Error()))
		return false
	}
	if n > 0 {
		return false
	}

	// Every job is terminal, so no runner is left to post events.
	ctx := context.WithoutCancel(c.ctx)
	closed, err := c.m.store.EndGroup(ctx, c.run.ID)
	if err != nil {
		logger.Error("failed to close run", slog.String("error", err.Error()))
		return true
	}

	elapsed := time.Since(c.started)
	logger.Info("group completed",
		slog.String("status", string(closed.RunStatus)),
		slog.Duration("elapsed", elapsed),
	)
	c.m.extensions.EmitGroupCompleted(ctx, closed, elapsed)

	if _, err := c.m.TriggerNextJobGroups(ctx, closed); err != nil {
		logger.Error("failed to start dependent groups", slog.String("error", err.Error()))
	}
	return true
}

// drain waits for in-flight jobs after the manager started stopping.
// Their dependents stay pending until Recover.
func (c *coordinator) drain(logger *slog.Logger) {
	logger.Debug("coordinator draining", slog.Int("unclaimed_events", len(c.events)))
	c.inflight.Wait()
}

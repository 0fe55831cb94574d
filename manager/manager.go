// Package manager runs the job groups of one time zone.
//
// A Manager evaluates root groups on every tick, starts the qualifying
// runs, and owns one coordinator goroutine per live run. The coordinator
// is the only component that decides what runs next: it dispatches root
// jobs, then reacts to completion and resume events by dispatching the
// jobs they release, and closes the run once no job is left unfinished.
// Closing a run starts the dependent groups whose prerequisites have all
// closed for the same run date. Job runners only execute handlers,
// persist results and post events back to their coordinator.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/ext"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/middleware"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/throttle"
)

// Store is the persistence a Manager needs: group definitions and run
// state. store.Store satisfies it.
type Store interface {
	group.Store
	queue.Store
}

// Manager orchestrates the job groups of a single time zone.
type Manager struct {
	tz  string
	loc *time.Location

	store      Store
	handlers   *handler.Registry
	extensions *ext.Registry
	throttle   *throttle.Manager
	mws        []middleware.Middleware
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time

	// base is the parent context of every coordinator and runner.
	base   context.Context
	cancel context.CancelFunc

	// stopping is closed by Shutdown. Coordinators stop dispatching and
	// drain their in-flight jobs.
	stopping chan struct{}

	mu     sync.Mutex
	runs   map[id.ID]*coordinator
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithExtensions sets the lifecycle extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Manager) { m.extensions = r }
}

// WithMiddleware appends job execution middleware. Panic recovery is
// always installed as the outermost layer.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(m *Manager) { m.mws = append(m.mws, mws...) }
}

// WithThrottle bounds job starts through the lane named after the
// manager's time zone.
func WithThrottle(t *throttle.Manager) Option {
	return func(m *Manager) { m.throttle = t }
}

// WithClock overrides the time source used for run start times.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates the Manager of time zone tz.
func New(tz string, store Store, handlers *handler.Registry, opts ...Option) (*Manager, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrUnknownTimeZone, tz)
	}
	if store == nil {
		return nil, batchflow.ErrNoStore
	}

	m := &Manager{
		tz:       tz,
		loc:      loc,
		store:    store,
		handlers: handlers,
		logger:   slog.Default(),
		now:      time.Now,
		stopping: make(chan struct{}),
		runs:     make(map[id.ID]*coordinator),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.handlers == nil {
		m.handlers = handler.NewRegistry()
	}
	if m.extensions == nil {
		m.extensions = ext.NewRegistry(m.logger)
	}
	m.logger = m.logger.With(slog.String("timezone", tz))
	m.mw = middleware.Chain(append([]middleware.Middleware{middleware.Recover(m.logger)}, m.mws...)...)
	m.base, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// TimeZone returns the manager's time zone name.
func (m *Manager) TimeZone() string { return m.tz }

// Location returns the manager's time zone.
func (m *Manager) Location() *time.Location { return m.loc }

// TriggerRootJobGroups evaluates every root group of the zone against
// runTime concurrently and starts those on schedule. It returns once every
// evaluation is done; the started runs continue in the background. The
// returned count is the number of runs created.
func (m *Manager) TriggerRootJobGroups(ctx context.Context, runTime time.Time) (int, error) {
	roots, err := m.store.RootGroups(ctx, m.tz)
	if err != nil {
		return 0, fmt.Errorf("load root groups: %w", err)
	}

	at := runTime.In(m.loc).Truncate(time.Minute)
	var (
		eg      errgroup.Group
		started atomic.Int32
	)
	for _, g := range roots {
		eg.Go(func() error {
			if !g.OnSchedule(at) {
				return nil
			}
			_, created, startErr := m.StartJobGroup(ctx, g, at, at)
			if startErr != nil {
				m.logger.Error("failed to start group",
					slog.String("group", g.Name),
					slog.String("error", startErr.Error()),
				)
				return fmt.Errorf("start %s: %w", g.Name, startErr)
			}
			if created {
				started.Add(1)
			}
			return nil
		})
	}
	err = eg.Wait()

	n := int(started.Load())
	m.extensions.EmitTickFired(ctx, m.tz, at, n)
	return n, err
}

// StartJobGroup starts the run of g for the calendar date of runDate in
// the manager's zone. The date must carry an occurrence of g's schedule.
// When the run already exists it is returned with created false and
// nothing is dispatched.
func (m *Manager) StartJobGroup(ctx context.Context, g *group.Group, runDate, startTime time.Time) (*queue.Group, bool, error) {
	if m.isClosed() {
		return nil, false, batchflow.ErrShuttingDown
	}
	runDate = queue.RunDate(runDate.In(m.loc))
	if !g.IsDateScheduled(runDate) {
		return nil, false, fmt.Errorf("%w: %s on %s", batchflow.ErrNotScheduled, g.Name, runDate.Format(queue.DateLayout))
	}

	run, created, err := m.store.StartGroup(ctx, g, runDate, startTime)
	if err != nil {
		return nil, false, err
	}
	if !created {
		m.logger.Debug("group already started",
			slog.String("group", g.Name),
			slog.String("run_date", run.RunDateKey()),
			slog.String("run_id", run.ID.String()),
		)
		return run, false, nil
	}

	m.logger.Info("group started",
		slog.String("group", g.Name),
		slog.String("run_date", run.RunDateKey()),
		slog.String("run_id", run.ID.String()),
	)
	m.extensions.EmitGroupStarted(ctx, run)

	if _, err := m.attach(g, run); err != nil {
		return run, true, err
	}
	return run, true, nil
}

// TriggerNextJobGroups starts the dependents of a closed run. A dependent
// starts once every group it depends on has a closed run for the same
// run date and its own schedule carries that date. It returns the number
// of runs created.
func (m *Manager) TriggerNextJobGroups(ctx context.Context, run *queue.Group) (int, error) {
	dependents, err := m.store.DependentGroups(ctx, run.JobGroupName, m.tz)
	if err != nil {
		return 0, fmt.Errorf("load dependents of %s: %w", run.JobGroupName, err)
	}

	started := 0
	var errs []error
	for _, g := range dependents {
		ready, readyErr := m.prerequisitesClosed(ctx, g, run.RunDate)
		if readyErr != nil {
			errs = append(errs, readyErr)
			continue
		}
		if !ready {
			m.logger.Debug("dependent group still waiting",
				slog.String("group", g.Name),
				slog.String("run_date", run.RunDateKey()),
			)
			continue
		}

		_, created, startErr := m.StartJobGroup(ctx, g, run.RunDate, m.now())
		switch {
		case errors.Is(startErr, batchflow.ErrNotScheduled):
			m.logger.Debug("dependent group not scheduled on run date",
				slog.String("group", g.Name),
				slog.String("run_date", run.RunDateKey()),
			)
		case startErr != nil:
			errs = append(errs, fmt.Errorf("start %s: %w", g.Name, startErr))
		case created:
			started++
		}
	}
	return started, errors.Join(errs...)
}

func (m *Manager) prerequisitesClosed(ctx context.Context, g *group.Group, runDate time.Time) (bool, error) {
	for _, name := range g.Dependencies {
		prior, err := m.store.FindGroupRun(ctx, name, m.tz, runDate)
		if errors.Is(err, batchflow.ErrRunNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("find run of %s: %w", name, err)
		}
		if !prior.Closed() {
			return false, nil
		}
	}
	return true, nil
}

// Resume releases a paused job. The job's live coordinator is notified;
// when the run has none, one is attached. Resuming a job of a closed run
// only updates the record.
func (m *Manager) Resume(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	j, err := m.store.ResumeJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.extensions.EmitJobResumed(ctx, j)
	m.logger.Info("job resumed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.JobName),
		slog.String("run_id", j.GroupID.String()),
	)

	if c := m.coordinator(j.GroupID); c != nil {
		c.post(event{jobID: j.ID, resumed: true})
		return j, nil
	}

	run, err := m.store.GetGroup(ctx, j.GroupID)
	if err != nil {
		return j, err
	}
	if run.TimeZone != m.tz {
		return j, fmt.Errorf("%w: run %s belongs to %s", batchflow.ErrRunNotActive, run.ID, run.TimeZone)
	}
	def, err := m.store.Group(ctx, run.JobGroupName, m.tz)
	if err != nil {
		return j, err
	}
	if _, err := m.attach(def, run); err != nil && !errors.Is(err, batchflow.ErrAlreadyClosed) {
		return j, err
	}
	return j, nil
}

// Recover re-attaches coordinators to the zone's runs left open by a
// previous process. Jobs caught running are marked as interrupted
// errors first, since their handlers are gone. It returns the number of
// runs re-attached.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	runs, err := m.store.ListGroups(ctx, queue.ListOpts{TimeZone: m.tz, Status: queue.StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("list open runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		if m.coordinator(run.ID) != nil {
			continue
		}

		jobs, err := m.store.ListJobs(ctx, run.ID)
		if err != nil {
			return recovered, err
		}
		for _, j := range jobs {
			if j.Status != queue.StatusRunning {
				continue
			}
			res := queue.Failed(queue.CodeInterrupted, "job was running when the scheduler stopped")
			if err := m.store.LogJobProgress(ctx, j.ID, run.ID, res); err != nil {
				return recovered, err
			}
			m.logger.Warn("marked interrupted job as failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.JobName),
				slog.String("run_id", run.ID.String()),
			)
		}

		def, err := m.store.Group(ctx, run.JobGroupName, m.tz)
		if errors.Is(err, batchflow.ErrGroupNotFound) {
			m.logger.Warn("open run has no definition, leaving it untouched",
				slog.String("group", run.JobGroupName),
				slog.String("run_id", run.ID.String()),
			)
			continue
		}
		if err != nil {
			return recovered, err
		}
		if _, err := m.attach(def, run); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// ActiveRuns returns the IDs of the runs that have a live coordinator.
func (m *Manager) ActiveRuns() []id.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]id.ID, 0, len(m.runs))
	for runID := range m.runs {
		out = append(out, runID)
	}
	return out
}

// NextOccurrences lists the next n occurrences of the named group at or
// after from.
func (m *Manager) NextOccurrences(ctx context.Context, name string, from time.Time, n int) ([]time.Time, error) {
	sched, err := m.store.Schedule(ctx, name, m.tz)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for len(out) < n {
		next, ok := sched.NextScheduledTime(t)
		if !ok {
			break
		}
		out = append(out, next)
		t = next.Add(time.Minute)
	}
	return out, nil
}

// Wait blocks until every live run has closed or, after Shutdown, until
// every coordinator has drained.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops starting runs and dispatching jobs, then waits for
// in-flight jobs to finish. When ctx expires first, the contexts of the
// in-flight handlers are cancelled. Open runs stay open in the store and
// are picked up by Recover.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopping)
	m.mu.Unlock()

	m.logger.Info("manager stopping")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("manager stopped gracefully")
	case <-ctx.Done():
		m.logger.Warn("manager shutdown timed out, cancelling in-flight jobs")
		m.cancel()
		<-done
	}
	m.cancel()
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) coordinator(runID id.ID) *coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID]
}

// attach starts the coordinator of run unless one is live already.
func (m *Manager) attach(def *group.Group, run *queue.Group) (*coordinator, error) {
	if run.Closed() {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrAlreadyClosed, run.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, batchflow.ErrShuttingDown
	}
	if c, ok := m.runs[run.ID]; ok {
		return c, nil
	}

	c := newCoordinator(m, def, run)
	m.runs[run.ID] = c
	m.wg.Add(1)
	go c.loop()
	return c, nil
}

func (m *Manager) detach(runID id.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
}

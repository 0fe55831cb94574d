package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/schedule"
)

// Ensure Store implements both ports at compile time.
// We can't import store here (import cycle), so we verify each port.
var (
	_ group.Store = (*Store)(nil)
	_ queue.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	catalog *group.Catalog

	mu sync.RWMutex

	groups map[id.ID]*queue.Group
	jobs   map[id.ID]*queue.Job

	// runs maps "name|tz|date" to the group run ID.
	runs map[string]id.ID
	// members lists a run's job IDs in position order.
	members map[id.ID][]id.ID

	now func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithCatalog sets the group definitions the store serves.
func WithCatalog(c *group.Catalog) Option {
	return func(s *Store) { s.catalog = c }
}

// WithClock overrides the time source used for run-state timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		groups:  make(map[id.ID]*queue.Group),
		jobs:    make(map[id.ID]*queue.Job),
		runs:    make(map[string]id.ID),
		members: make(map[id.ID][]id.ID),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog, _ = group.NewCatalog()
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Group Store (definitions)
// ──────────────────────────────────────────────────

// TimeZones lists the catalog's time zones.
func (m *Store) TimeZones(ctx context.Context) ([]string, error) {
	return m.catalog.TimeZones(ctx)
}

// Groups lists every group of tz.
func (m *Store) Groups(ctx context.Context, tz string) ([]*group.Group, error) {
	return m.catalog.Groups(ctx, tz)
}

// RootGroups lists the groups of tz with no group dependency.
func (m *Store) RootGroups(ctx context.Context, tz string) ([]*group.Group, error) {
	return m.catalog.RootGroups(ctx, tz)
}

// Group returns the named group definition.
func (m *Store) Group(ctx context.Context, name, tz string) (*group.Group, error) {
	return m.catalog.Group(ctx, name, tz)
}

// Schedule returns the named group's schedule.
func (m *Store) Schedule(ctx context.Context, name, tz string) (*schedule.Schedule, error) {
	return m.catalog.Schedule(ctx, name, tz)
}

// DependentGroups lists the groups of tz that depend on name.
func (m *Store) DependentGroups(ctx context.Context, name, tz string) ([]*group.Group, error) {
	return m.catalog.DependentGroups(ctx, name, tz)
}

// ──────────────────────────────────────────────────
// Queue Store (run state)
// ──────────────────────────────────────────────────

func runKey(name, tz string, runDate time.Time) string {
	return name + "|" + tz + "|" + runDate.Format(queue.DateLayout)
}

// StartGroup atomically creates a run and its job records, or returns the
// existing run of the same group and date.
func (m *Store) StartGroup(_ context.Context, g *group.Group, runDate, startTime time.Time) (*queue.Group, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := runKey(g.Name, g.TimeZone, runDate)
	if existing, ok := m.runs[key]; ok {
		return copyGroup(m.groups[existing]), false, nil
	}

	run, jobs := queue.NewRun(g, runDate, startTime)
	now := m.now()
	run.CreatedAt, run.UpdatedAt = now, now

	m.groups[run.ID] = run
	m.runs[key] = run.ID
	ids := make([]id.ID, 0, len(jobs))
	for _, j := range jobs {
		j.CreatedAt, j.UpdatedAt = now, now
		m.jobs[j.ID] = j
		ids = append(ids, j.ID)
	}
	m.members[run.ID] = ids

	return copyGroup(run), true, nil
}

// EndGroup closes a run with the status derived from its jobs.
func (m *Store) EndGroup(_ context.Context, groupID id.ID) (*queue.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}
	if run.Closed() {
		return copyGroup(run), nil
	}

	now := m.now()
	run.RunStatus = queue.EndStatus(m.runJobs(groupID))
	run.EndTime = &now
	run.UpdatedAt = now
	return copyGroup(run), nil
}

// RootJobs returns the pending jobs of a run with no dependencies.
func (m *Store) RootJobs(_ context.Context, groupID id.ID) ([]*queue.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}
	return copyJobs(queue.Roots(m.runJobs(groupID))), nil
}

// NextJobs returns the pending dependents of jobID that are ready to start.
func (m *Store) NextJobs(_ context.Context, jobID, groupID id.ID) ([]*queue.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}
	return copyJobs(queue.Ready(m.runJobs(groupID), jobID)), nil
}

// CountUnfinishedJobs returns the number of non-terminal jobs of a run.
func (m *Store) CountUnfinishedJobs(_ context.Context, groupID id.ID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID]; !ok {
		return 0, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}
	return queue.CountUnfinished(m.runJobs(groupID)), nil
}

// ClaimJob moves a pending job to running.
func (m *Store) ClaimJob(_ context.Context, jobID id.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	if j.Status != queue.StatusPending {
		return false, nil
	}
	now := m.now()
	j.Status = queue.StatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// LogJobProgress records a job's terminal result.
func (m *Store) LogJobProgress(_ context.Context, jobID, groupID id.ID, r queue.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok || j.GroupID != groupID {
		return fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	j.Apply(r, m.now())
	return nil
}

// AddJobProgress adds in-flight item deltas to a job's counters.
func (m *Store) AddJobProgress(_ context.Context, jobID id.ID, total, finished, errored int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	j.ItemsTotal += total
	j.ItemsFinished += finished
	j.ItemsError += errored
	j.UpdatedAt = m.now()
	return nil
}

// JobResult returns the recorded outcome of a job.
func (m *Store) JobResult(_ context.Context, jobID id.ID) (queue.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return queue.Result{}, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	return j.Result(), nil
}

// ResumeJob flips a paused job to continue.
func (m *Store) ResumeJob(_ context.Context, jobID id.ID) (*queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	if !j.Paused() {
		return nil, fmt.Errorf("%w: %s is %s/%s", batchflow.ErrNotPaused, jobID, j.Status, j.NextStep)
	}
	j.NextStep = queue.NextContinue
	j.UpdatedAt = m.now()
	return copyJob(j), nil
}

// FindGroupRun returns the run of a group on runDate.
func (m *Store) FindGroupRun(_ context.Context, name, tz string, runDate time.Time) (*queue.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runID, ok := m.runs[runKey(name, tz, runDate)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s on %s", batchflow.ErrRunNotFound, name, tz, runDate.Format(queue.DateLayout))
	}
	return copyGroup(m.groups[runID]), nil
}

// GetGroup retrieves a run by ID.
func (m *Store) GetGroup(_ context.Context, groupID id.ID) (*queue.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}
	return copyGroup(run), nil
}

// ListGroups returns runs matching opts, newest first.
func (m *Store) ListGroups(_ context.Context, opts queue.ListOpts) ([]*queue.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*queue.Group
	for _, run := range m.groups {
		if opts.TimeZone != "" && run.TimeZone != opts.TimeZone {
			continue
		}
		if opts.JobGroupName != "" && run.JobGroupName != opts.JobGroupName {
			continue
		}
		if opts.Status != "" && run.RunStatus != opts.Status {
			continue
		}
		result = append(result, copyGroup(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.After(result[j].StartTime)
		}
		return result[i].ID.String() > result[j].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// GetJob retrieves a job record by ID.
func (m *Store) GetJob(_ context.Context, jobID id.ID) (*queue.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	return copyJob(j), nil
}

// ListJobs returns the job records of a run in position order.
func (m *Store) ListJobs(_ context.Context, groupID id.ID) ([]*queue.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}
	return copyJobs(m.runJobs(groupID)), nil
}

// runJobs returns the live job records of a run. Callers hold m.mu.
func (m *Store) runJobs(groupID id.ID) []*queue.Job {
	ids := m.members[groupID]
	out := make([]*queue.Job, 0, len(ids))
	for _, jobID := range ids {
		out = append(out, m.jobs[jobID])
	}
	return out
}

func copyGroup(g *queue.Group) *queue.Group {
	cp := *g
	return &cp
}

func copyJob(j *queue.Job) *queue.Job {
	cp := *j
	cp.DependsOn = slices.Clone(j.DependsOn)
	if j.Message != nil {
		msg := *j.Message
		cp.Message = &msg
	}
	return &cp
}

func copyJobs(jobs []*queue.Job) []*queue.Job {
	out := make([]*queue.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, copyJob(j))
	}
	return out
}

package queue

import (
	"context"
	"time"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
)

// ListOpts controls pagination and filtering for group run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// TimeZone filters by time zone. Empty means all zones.
	TimeZone string
	// JobGroupName filters by group name. Empty means all groups.
	JobGroupName string
	// Status filters by run status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for run state.
type Store interface {
	// StartGroup atomically creates the run of g on runDate together with
	// one pending job record per job of g. When a run of g already exists
	// for runDate, it returns that run and false.
	StartGroup(ctx context.Context, g *group.Group, runDate, startTime time.Time) (*Group, bool, error)

	// EndGroup closes a run: error if any of its jobs ended in error,
	// finished otherwise. Closing a closed run returns it unchanged.
	EndGroup(ctx context.Context, groupID id.ID) (*Group, error)

	// RootJobs returns the pending jobs of a run with no dependencies.
	RootJobs(ctx context.Context, groupID id.ID) ([]*Job, error)

	// NextJobs returns the pending jobs of a run that depend on jobID and
	// whose every dependency is terminal with NextStep continue.
	NextJobs(ctx context.Context, jobID, groupID id.ID) ([]*Job, error)

	// CountUnfinishedJobs returns the number of non-terminal jobs of a run.
	CountUnfinishedJobs(ctx context.Context, groupID id.ID) (int, error)

	// ClaimJob moves a job from pending to running. It returns false when
	// the job was not pending.
	ClaimJob(ctx context.Context, jobID id.ID) (bool, error)

	// LogJobProgress records a job's terminal result: status, next step,
	// message, and item deltas added to the job's counters.
	LogJobProgress(ctx context.Context, jobID, groupID id.ID, r Result) error

	// AddJobProgress adds in-flight item deltas to a job's counters.
	AddJobProgress(ctx context.Context, jobID id.ID, total, finished, errored int64) error

	// JobResult returns the recorded outcome of a job.
	JobResult(ctx context.Context, jobID id.ID) (Result, error)

	// ResumeJob flips a paused terminal job to NextStep continue.
	ResumeJob(ctx context.Context, jobID id.ID) (*Job, error)

	// FindGroupRun returns the run of a group on runDate.
	FindGroupRun(ctx context.Context, name, tz string, runDate time.Time) (*Group, error)

	// GetGroup retrieves a run by ID.
	GetGroup(ctx context.Context, groupID id.ID) (*Group, error)

	// ListGroups returns runs matching opts, newest first.
	ListGroups(ctx context.Context, opts ListOpts) ([]*Group, error)

	// GetJob retrieves a job record by ID.
	GetJob(ctx context.Context, jobID id.ID) (*Job, error)

	// ListJobs returns the job records of a run in definition order.
	ListJobs(ctx context.Context, groupID id.ID) ([]*Job, error)
}

// NewRun builds the records StartGroup persists for g. Job records are in
// definition order and their dependencies are resolved to record IDs.
func NewRun(g *group.Group, runDate, startTime time.Time) (*Group, []*Job) {
	run := &Group{
		ID:           id.NewQueueGroupID(),
		JobGroupName: g.Name,
		TimeZone:     g.TimeZone,
		RunDate:      RunDate(runDate),
		StartTime:    startTime,
		RunStatus:    StatusRunning,
	}
	run.Entity = batchflow.NewEntity()

	ids := make(map[string]id.ID, len(g.Jobs))
	for _, j := range g.Jobs {
		ids[j.Name] = id.NewQueueJobID()
	}

	jobs := make([]*Job, 0, len(g.Jobs))
	for pos, j := range g.Jobs {
		rec := &Job{
			Entity:   run.Entity,
			ID:       ids[j.Name],
			GroupID:  run.ID,
			JobName:  j.Name,
			Handler:  j.Handler,
			Position: pos,
			Status:   StatusPending,
		}
		for _, dep := range j.Dependencies {
			rec.DependsOn = append(rec.DependsOn, ids[dep])
		}
		jobs = append(jobs, rec)
	}
	return run, jobs
}

// Apply records r on j the way LogJobProgress does. Backends that hold
// records in memory share it.
func (j *Job) Apply(r Result, now time.Time) {
	j.Status = r.Status
	j.NextStep = r.NextStep
	if r.Message != nil {
		m := *r.Message
		j.Message = &m
	}
	j.ItemsTotal += r.ItemsTotal
	j.ItemsFinished += r.ItemsFinished
	j.ItemsError += r.ItemsError
	j.FinishedAt = &now
	j.UpdatedAt = now
}

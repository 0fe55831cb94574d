package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

// startScript creates a run, its jobs and the run indexes unless the
// (time zone, group, date) index already points at a run.
//
//	KEYS: index, run, runs, run jobs, job 1..n
//	ARGV: run ID, score, then for the run and each job a field count
//	      followed by its field/value pairs, each job pair list followed
//	      by the job ID
//
// Returns the ID of the run that owns the index.
var startScript = goredis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	return existing
end
local i = 3
local function fields()
	local n = tonumber(ARGV[i])
	local out = {}
	for k = 1, n do
		out[k] = ARGV[i + k]
	end
	i = i + n + 1
	return out
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], unpack(fields()))
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
for k = 5, #KEYS do
	redis.call('HSET', KEYS[k], unpack(fields()))
	redis.call('RPUSH', KEYS[4], ARGV[i])
	i = i + 1
end
return ARGV[1]
`)

// StartGroup creates the run of g on runDate together with its jobs in one
// script call. When the (time zone, group, date) index is already taken the
// existing run is returned with created false.
func (s *Store) StartGroup(ctx context.Context, g *group.Group, runDate, startTime time.Time) (*queue.Group, bool, error) {
	run, jobs := queue.NewRun(g, runDate, startTime)
	now := s.now()
	run.CreatedAt, run.UpdatedAt = now, now

	runID := run.ID.String()
	keys := []string{
		runIndexKey(run.TimeZone, run.JobGroupName, run.RunDateKey()),
		runKey(runID),
		runsKey,
		runJobsKey(runID),
	}
	args := []any{runID, run.StartTime.UnixNano()}
	args = appendFields(args, runToMap(run))
	for _, j := range jobs {
		j.CreatedAt, j.UpdatedAt = now, now
		keys = append(keys, jobKey(j.ID.String()))
		args = appendFields(args, jobToMap(j))
		args = append(args, j.ID.String())
	}

	owner, err := startScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, false, fmt.Errorf("batchflow/redis: start group: %w", err)
	}
	if owner != runID {
		existing, findErr := s.getRunByKey(ctx, runKey(owner))
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	return run, true, nil
}

// appendFields appends the field count of m and its field/value pairs.
func appendFields(args []any, m map[string]any) []any {
	args = append(args, len(m)*2)
	for k, v := range m {
		args = append(args, k, v)
	}
	return args
}

// EndGroup closes a run with the status derived from its jobs.
func (s *Store) EndGroup(ctx context.Context, groupID id.ID) (*queue.Group, error) {
	run, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if run.Closed() {
		return run, nil
	}

	jobs, err := s.ListJobs(ctx, groupID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	run.RunStatus = queue.EndStatus(jobs)
	run.EndTime = &now
	run.UpdatedAt = now

	err = s.client.HSet(ctx, runKey(groupID.String()),
		"run_status", string(run.RunStatus),
		"end_time", now.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: end group: %w", err)
	}
	return run, nil
}

// FindGroupRun returns the run of a group on runDate.
func (s *Store) FindGroupRun(ctx context.Context, name, tz string, runDate time.Time) (*queue.Group, error) {
	date := runDate.Format(queue.DateLayout)
	runID, err := s.client.Get(ctx, runIndexKey(tz, name, date)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s in %s on %s", batchflow.ErrRunNotFound, name, tz, date)
		}
		return nil, fmt.Errorf("batchflow/redis: find run: %w", err)
	}
	return s.getRunByKey(ctx, runKey(runID))
}

// GetGroup retrieves a run by ID.
func (s *Store) GetGroup(ctx context.Context, groupID id.ID) (*queue.Group, error) {
	return s.getRunByKey(ctx, runKey(groupID.String()))
}

// ListGroups returns runs matching opts, newest first.
func (s *Store) ListGroups(ctx context.Context, opts queue.ListOpts) ([]*queue.Group, error) {
	ids, err := s.client.ZRevRange(ctx, runsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: list runs: %w", err)
	}

	var result []*queue.Group
	skipped := 0
	for _, runID := range ids {
		run, getErr := s.getRunByKey(ctx, runKey(runID))
		if getErr != nil {
			if errors.Is(getErr, batchflow.ErrRunNotFound) {
				continue
			}
			return nil, getErr
		}
		if opts.TimeZone != "" && run.TimeZone != opts.TimeZone {
			continue
		}
		if opts.JobGroupName != "" && run.JobGroupName != opts.JobGroupName {
			continue
		}
		if opts.Status != "" && run.RunStatus != opts.Status {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		result = append(result, run)
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) getRunByKey(ctx context.Context, key string) (*queue.Group, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, key)
	}
	return mapToRun(vals)
}

func runToMap(g *queue.Group) map[string]any {
	m := map[string]any{
		"id":             g.ID.String(),
		"job_group_name": g.JobGroupName,
		"timezone":       g.TimeZone,
		"run_date":       g.RunDateKey(),
		"start_time":     g.StartTime.Format(time.RFC3339Nano),
		"run_status":     string(g.RunStatus),
		"created_at":     g.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     g.UpdatedAt.Format(time.RFC3339Nano),
	}
	if g.EndTime != nil {
		m["end_time"] = g.EndTime.Format(time.RFC3339Nano)
	}
	return m
}

func mapToRun(m map[string]string) (*queue.Group, error) {
	runID, err := id.ParseQueueGroupID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: parse run id: %w", err)
	}
	runDate, err := queue.ParseRunDate(m["run_date"], m["timezone"])
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: run %s date: %w", m["id"], err)
	}

	startTime, _ := time.Parse(time.RFC3339Nano, m["start_time"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	run := &queue.Group{
		Entity: batchflow.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:           runID,
		JobGroupName: m["job_group_name"],
		TimeZone:     m["timezone"],
		RunDate:      runDate,
		StartTime:    startTime,
		RunStatus:    queue.Status(m["run_status"]),
	}
	if v := m["end_time"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		run.EndTime = &t
	}
	return run, nil
}

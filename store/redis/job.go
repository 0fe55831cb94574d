package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

// claimScript moves a pending job to running.
// Returns -1 when the job does not exist, 0 when it was not pending.
var claimScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
	return -1
end
if status ~= 'pending' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'running', 'started_at', ARGV[1], 'updated_at', ARGV[1])
return 1
`)

// resumeScript flips a paused terminal job to continue.
// Returns -1 when the job does not exist, 0 when it was not paused.
var resumeScript = goredis.NewScript(`
local v = redis.call('HMGET', KEYS[1], 'status', 'next_step')
if not v[1] then
	return -1
end
if (v[1] == 'error' or v[1] == 'finished') and v[2] == 'pause' then
	redis.call('HSET', KEYS[1], 'next_step', 'continue', 'updated_at', ARGV[1])
	return 1
end
return 0
`)

// RootJobs returns the pending jobs of a run with no dependencies.
func (s *Store) RootJobs(ctx context.Context, groupID id.ID) ([]*queue.Job, error) {
	jobs, err := s.ListJobs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return queue.Roots(jobs), nil
}

// NextJobs returns the pending dependents of jobID that are ready to start.
func (s *Store) NextJobs(ctx context.Context, jobID, groupID id.ID) ([]*queue.Job, error) {
	jobs, err := s.ListJobs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return queue.Ready(jobs, jobID), nil
}

// CountUnfinishedJobs returns the number of non-terminal jobs of a run.
func (s *Store) CountUnfinishedJobs(ctx context.Context, groupID id.ID) (int, error) {
	jobs, err := s.ListJobs(ctx, groupID)
	if err != nil {
		return 0, err
	}
	return queue.CountUnfinished(jobs), nil
}

// ClaimJob moves a pending job to running.
func (s *Store) ClaimJob(ctx context.Context, jobID id.ID) (bool, error) {
	now := s.now().Format(time.RFC3339Nano)
	n, err := claimScript.Run(ctx, s.client, []string{jobKey(jobID.String())}, now).Int()
	if err != nil {
		return false, fmt.Errorf("batchflow/redis: claim job: %w", err)
	}
	if n < 0 {
		return false, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	return n == 1, nil
}

// LogJobProgress records a job's terminal result.
func (s *Store) LogJobProgress(ctx context.Context, jobID, groupID id.ID, r queue.Result) error {
	key := jobKey(jobID.String())

	owner, err := s.client.HGet(ctx, key, "group_id").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("batchflow/redis: log job progress: %w", err)
	}
	if owner == "" || owner != groupID.String() {
		return fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}

	now := s.now().Format(time.RFC3339Nano)
	fields := map[string]any{
		"status":      string(r.Status),
		"next_step":   string(r.NextStep),
		"finished_at": now,
		"updated_at":  now,
	}
	if r.Message != nil {
		fields["message_code"] = r.Message.Code
		fields["message_text"] = r.Message.Text
		fields["message_errors"] = strconv.Itoa(r.Message.ErrorCount)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.HIncrBy(ctx, key, "items_total", r.ItemsTotal)
	pipe.HIncrBy(ctx, key, "items_finished", r.ItemsFinished)
	pipe.HIncrBy(ctx, key, "items_error", r.ItemsError)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batchflow/redis: log job progress: %w", err)
	}
	return nil
}

// AddJobProgress adds in-flight item deltas to a job's counters.
func (s *Store) AddJobProgress(ctx context.Context, jobID id.ID, total, finished, errored int64) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("batchflow/redis: add job progress exists: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "items_total", total)
	pipe.HIncrBy(ctx, key, "items_finished", finished)
	pipe.HIncrBy(ctx, key, "items_error", errored)
	pipe.HSet(ctx, key, "updated_at", s.now().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batchflow/redis: add job progress: %w", err)
	}
	return nil
}

// JobResult returns the recorded outcome of a job.
func (s *Store) JobResult(ctx context.Context, jobID id.ID) (queue.Result, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return queue.Result{}, err
	}
	return j.Result(), nil
}

// ResumeJob flips a paused job to continue.
func (s *Store) ResumeJob(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	now := s.now().Format(time.RFC3339Nano)
	n, err := resumeScript.Run(ctx, s.client, []string{jobKey(jobID.String())}, now).Int()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: resume job: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}

	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s is %s/%s", batchflow.ErrNotPaused, jobID, j.Status, j.NextStep)
	}
	return j, nil
}

// GetJob retrieves a job record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	return mapToJob(vals)
}

// ListJobs returns the job records of a run in position order.
func (s *Store) ListJobs(ctx context.Context, groupID id.ID) ([]*queue.Job, error) {
	runID := groupID.String()

	exists, err := s.client.Exists(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: list jobs exists: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
	}

	ids, err := s.client.LRange(ctx, runJobsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: list jobs: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, 0, len(ids))
	for _, jobID := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, jobKey(jobID)))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("batchflow/redis: load jobs: %w", err)
		}
	}

	jobs := make([]*queue.Job, 0, len(cmds))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, parseErr := mapToJob(vals)
		if parseErr != nil {
			return nil, parseErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func jobToMap(j *queue.Job) map[string]any {
	deps := make([]string, 0, len(j.DependsOn))
	for _, d := range j.DependsOn {
		deps = append(deps, d.String())
	}
	m := map[string]any{
		"id":             j.ID.String(),
		"group_id":       j.GroupID.String(),
		"job_name":       j.JobName,
		"handler":        j.Handler,
		"position":       strconv.Itoa(j.Position),
		"depends_on":     strings.Join(deps, ","),
		"status":         string(j.Status),
		"next_step":      string(j.NextStep),
		"items_total":    strconv.FormatInt(j.ItemsTotal, 10),
		"items_finished": strconv.FormatInt(j.ItemsFinished, 10),
		"items_error":    strconv.FormatInt(j.ItemsError, 10),
		"created_at":     j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.Message != nil {
		m["message_code"] = j.Message.Code
		m["message_text"] = j.Message.Text
		m["message_errors"] = strconv.Itoa(j.Message.ErrorCount)
	}
	return m
}

func mapToJob(m map[string]string) (*queue.Job, error) {
	jobID, err := id.ParseQueueJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: parse job id: %w", err)
	}
	runID, err := id.ParseQueueGroupID(m["group_id"])
	if err != nil {
		return nil, fmt.Errorf("batchflow/redis: parse run id: %w", err)
	}

	position, _ := strconv.Atoi(m["position"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	total, _ := strconv.ParseInt(m["items_total"], 10, 64)        //nolint:errcheck // best-effort parse from trusted Redis data
	finished, _ := strconv.ParseInt(m["items_finished"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	errored, _ := strconv.ParseInt(m["items_error"], 10, 64)      //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &queue.Job{
		Entity: batchflow.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            jobID,
		GroupID:       runID,
		JobName:       m["job_name"],
		Handler:       m["handler"],
		Position:      position,
		Status:        queue.Status(m["status"]),
		NextStep:      queue.NextStep(m["next_step"]),
		ItemsTotal:    total,
		ItemsFinished: finished,
		ItemsError:    errored,
	}

	if deps := m["depends_on"]; deps != "" {
		for _, dep := range strings.Split(deps, ",") {
			depID, parseErr := id.ParseQueueJobID(dep)
			if parseErr != nil {
				return nil, fmt.Errorf("batchflow/redis: parse dependency of %s: %w", m["id"], parseErr)
			}
			j.DependsOn = append(j.DependsOn, depID)
		}
	}
	if _, ok := m["message_code"]; ok {
		errs, _ := strconv.Atoi(m["message_errors"]) //nolint:errcheck // best-effort parse from trusted Redis data
		j.Message = &queue.Message{
			Code:       m["message_code"],
			Text:       m["message_text"],
			ErrorCount: errs,
		}
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	return j, nil
}

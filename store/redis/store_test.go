package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "time/tzdata"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/schedule"
	redisstore "github.com/xraph/batchflow/store/redis"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client), mr
}

func newyorkGroup(t *testing.T) *group.Group {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	sched, err := schedule.New(schedule.Spec{Hours: "20"}, loc)
	require.NoError(t, err)
	g, err := group.New("eod", "America/New_York", sched, group.WithJobs(
		&group.Job{Name: "extract", Handler: "noop"},
		&group.Job{Name: "load", Handler: "noop", Dependencies: []string{"extract"}},
		&group.Job{Name: "notify", Handler: "noop", Dependencies: []string{"extract", "load"}},
	))
	require.NoError(t, err)
	return g
}

func runDate(t *testing.T, day int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(2024, 11, day, 0, 0, 0, 0, loc)
}

func jobsByName(t *testing.T, s *redisstore.Store, runID id.ID) map[string]*queue.Job {
	t.Helper()
	jobs, err := s.ListJobs(context.Background(), runID)
	require.NoError(t, err)
	out := make(map[string]*queue.Job, len(jobs))
	for _, j := range jobs {
		out[j.JobName] = j
	}
	return out
}

func TestLifecycle(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
}

func TestStartGroup_ConcurrentDuplicates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	g := newyorkGroup(t)
	d := runDate(t, 5)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = make(map[id.ID]struct{})
		errs    []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, ok, err := s.StartGroup(ctx, g, d, d.Add(20*time.Hour))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				created++
			}
			ids[run.ID] = struct{}{}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created)
	require.Len(t, ids, 1)

	runs, err := s.ListGroups(ctx, queue.ListOpts{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	for runID := range ids {
		assert.Equal(t, runID, runs[0].ID)
		assert.Len(t, jobsByName(t, s, runID), 3)
	}
}

func TestStartGroup_Idempotent(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	g := newyorkGroup(t)
	d := runDate(t, 4)

	run, created, err := s.StartGroup(ctx, g, d, d.Add(20*time.Hour))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "2024-11-04", run.RunDateKey())
	assert.True(t, mr.Exists("batchflow:run_index:America/New_York:eod:2024-11-04"))

	again, created, err := s.StartGroup(ctx, g, d, d.Add(21*time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, run.ID, again.ID)
	assert.Equal(t, "America/New_York", again.RunDate.Location().String())

	jobs, err := s.ListJobs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "extract", jobs[0].JobName)
	assert.Equal(t, "notify", jobs[2].JobName)
	assert.Len(t, jobs[2].DependsOn, 2)
}

func TestJobFlow(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	d := runDate(t, 5)

	run, _, err := s.StartGroup(ctx, newyorkGroup(t), d, d.Add(20*time.Hour))
	require.NoError(t, err)
	jobs := jobsByName(t, s, run.ID)

	roots, err := s.RootJobs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "extract", roots[0].JobName)

	extract := jobs["extract"]
	ok, err := s.ClaimJob(ctx, extract.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimJob(ctx, extract.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	require.NoError(t, s.AddJobProgress(ctx, extract.ID, 8, 3, 0))
	res := queue.Finished()
	res.ItemsFinished = 5
	require.NoError(t, s.LogJobProgress(ctx, extract.ID, run.ID, res))

	got, err := s.GetJob(ctx, extract.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFinished, got.Status)
	assert.Equal(t, int64(8), got.ItemsFinished)
	assert.Equal(t, "100.0%", got.FormatProgress())
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	next, err := s.NextJobs(ctx, extract.ID, run.ID)
	require.NoError(t, err)
	require.Len(t, next, 1, "notify still waits for load")
	assert.Equal(t, "load", next[0].JobName)

	n, err := s.CountUnfinishedJobs(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPauseResume(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	d := runDate(t, 6)

	run, _, err := s.StartGroup(ctx, newyorkGroup(t), d, d)
	require.NoError(t, err)
	extract := jobsByName(t, s, run.ID)["extract"]

	_, err = s.ResumeJob(ctx, extract.ID)
	assert.ErrorIs(t, err, batchflow.ErrNotPaused)

	require.NoError(t, s.LogJobProgress(ctx, extract.ID, run.ID, queue.Paused("needs sign-off")))
	next, err := s.NextJobs(ctx, extract.ID, run.ID)
	require.NoError(t, err)
	assert.Empty(t, next)

	result, err := s.JobResult(ctx, extract.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.NextPause, result.NextStep)
	require.NotNil(t, result.Message)
	assert.Equal(t, "needs sign-off", result.Message.Text)

	resumed, err := s.ResumeJob(ctx, extract.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.NextContinue, resumed.NextStep)

	next, err = s.NextJobs(ctx, extract.ID, run.ID)
	require.NoError(t, err)
	assert.Len(t, next, 1)
}

func TestEndGroup(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	d := runDate(t, 7)

	run, _, err := s.StartGroup(ctx, newyorkGroup(t), d, d)
	require.NoError(t, err)
	jobs := jobsByName(t, s, run.ID)

	require.NoError(t, s.LogJobProgress(ctx, jobs["extract"].ID, run.ID, queue.Finished()))
	require.NoError(t, s.LogJobProgress(ctx, jobs["load"].ID, run.ID, queue.Failed("exit_1", "boom")))
	require.NoError(t, s.LogJobProgress(ctx, jobs["notify"].ID, run.ID, queue.Finished()))

	closed, err := s.EndGroup(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusError, closed.RunStatus)
	require.NotNil(t, closed.EndTime)

	again, err := s.EndGroup(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, again.EndTime.Equal(*closed.EndTime))
}

func TestFindAndListGroups(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	g := newyorkGroup(t)

	for day := 1; day <= 3; day++ {
		d := runDate(t, day)
		_, _, err := s.StartGroup(ctx, g, d, d.Add(20*time.Hour))
		require.NoError(t, err)
	}

	found, err := s.FindGroupRun(ctx, "eod", "America/New_York", runDate(t, 2))
	require.NoError(t, err)
	assert.Equal(t, "2024-11-02", found.RunDateKey())

	_, err = s.FindGroupRun(ctx, "eod", "America/New_York", runDate(t, 20))
	assert.ErrorIs(t, err, batchflow.ErrRunNotFound)

	runs, err := s.ListGroups(ctx, queue.ListOpts{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "2024-11-03", runs[0].RunDateKey())

	runs, err = s.ListGroups(ctx, queue.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "2024-11-02", runs[0].RunDateKey())

	runs, err = s.ListGroups(ctx, queue.ListOpts{TimeZone: "Europe/Paris"})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNotFound(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.GetGroup(ctx, id.NewQueueGroupID())
	assert.ErrorIs(t, err, batchflow.ErrRunNotFound)

	_, err = s.RootJobs(ctx, id.NewQueueGroupID())
	assert.ErrorIs(t, err, batchflow.ErrRunNotFound)

	_, err = s.ClaimJob(ctx, id.NewQueueJobID())
	assert.ErrorIs(t, err, batchflow.ErrJobNotFound)

	_, err = s.ResumeJob(ctx, id.NewQueueJobID())
	assert.ErrorIs(t, err, batchflow.ErrJobNotFound)

	err = s.AddJobProgress(ctx, id.NewQueueJobID(), 1, 0, 0)
	assert.ErrorIs(t, err, batchflow.ErrJobNotFound)

	err = s.LogJobProgress(ctx, id.NewQueueJobID(), id.NewQueueGroupID(), queue.Finished())
	assert.ErrorIs(t, err, batchflow.ErrJobNotFound)
}

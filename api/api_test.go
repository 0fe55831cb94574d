package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/batchflow/api"
	"github.com/xraph/batchflow/engine"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/handler/builtin"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/schedule"
	"github.com/xraph/batchflow/store"
	"github.com/xraph/batchflow/store/memory"
	"github.com/xraph/batchflow/stream"
)

// 09:00 on Friday 2024-03-15 in Tokyo.
var instant = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

const tokyo = "/v1/timezones/Asia%2FTokyo"

type fixture struct {
	srv    *httptest.Server
	runs   *memory.Store
	broker *stream.Broker
	logs   *logBuffer
}

// logBuffer collects handler log output written from server goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// records decodes every JSON log line with the given message.
func (b *logBuffer) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	sched, err := schedule.New(schedule.Spec{Weekdays: "1-5", Hours: "9"}, loc)
	require.NoError(t, err)
	g, err := group.New("sod", "Asia/Tokyo", sched, group.WithJobs(
		&group.Job{Name: "open", Handler: builtin.Noop},
		&group.Job{Name: "approve", Handler: builtin.Pause, Dependencies: []string{"open"}},
		&group.Job{Name: "publish", Handler: builtin.Noop, Dependencies: []string{"approve"}},
	))
	require.NoError(t, err)
	cat, err := group.NewCatalog(g)
	require.NoError(t, err)

	reg := handler.NewRegistry()
	builtin.Register(reg)

	clock := func() time.Time { return instant }
	prom := prometheus.NewRegistry()
	broker := stream.NewBroker(slog.Default())
	runs := memory.New()
	s, err := engine.New(store.Compose(cat, runs), reg,
		engine.WithClock(clock),
		engine.WithPrometheus(prom),
		engine.WithExtension(broker),
	)
	require.NoError(t, err)

	logs := &logBuffer{}
	a := api.New(s,
		api.WithGatherer(prom),
		api.WithClock(clock),
		api.WithBroker(broker),
		api.WithLogger(slog.New(slog.NewJSONHandler(logs, nil))),
	)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = s.Stop(context.Background())
	})
	return &fixture{srv: srv, runs: runs, broker: broker, logs: logs}
}

func (f *fixture) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// pausedJob triggers Tokyo and waits for the approval job to hold.
func (f *fixture) pausedJob(t *testing.T) *queue.Job {
	t.Helper()
	var trig api.TriggerResponse
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, tokyo+"/trigger", &trig))
	require.Equal(t, 1, trig.Started)

	var paused *queue.Job
	require.Eventually(t, func() bool {
		all, _ := f.runs.ListGroups(context.Background(), queue.ListOpts{})
		if len(all) == 0 {
			return false
		}
		jobs, _ := f.runs.ListJobs(context.Background(), all[0].ID)
		for _, j := range jobs {
			if j.JobName == "approve" && j.Paused() {
				paused = j
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return paused
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newFixture(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", &health))
	assert.Equal(t, "ok", health["status"])

	f.pausedJob(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTimeZonesAndGroups(t *testing.T) {
	f := newFixture(t)

	var zones []api.TimeZoneResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/timezones", &zones))
	require.Len(t, zones, 1)
	assert.Equal(t, "Asia/Tokyo", zones[0].TimeZone)
	assert.Equal(t, 1, zones[0].Groups)

	var groups []api.GroupResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, tokyo+"/groups", &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "sod", groups[0].Name)
	require.Len(t, groups[0].Jobs, 3)
	assert.Equal(t, []string{"approve"}, groups[0].Jobs[2].DependsOn)

	var g api.GroupResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, tokyo+"/groups/sod", &g))
	assert.Contains(t, g.Schedule, "weekdays=1-5")

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, tokyo+"/groups/ghost", &apiErr))
	assert.NotEmpty(t, apiErr.Error)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/timezones/Europe%2FParis/groups", nil))
}

func TestNextOccurrences(t *testing.T) {
	f := newFixture(t)

	var next api.NextResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, tokyo+"/groups/sod/next?count=2", &next))
	require.Len(t, next.Next, 2)
	assert.True(t, next.Next[0].Equal(instant), "occurrence at now counts")
	// Friday then Monday.
	assert.True(t, next.Next[1].Equal(time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)), "got %s", next.Next[1])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, tokyo+"/groups/sod/next?count=0", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, tokyo+"/groups/sod/next?count=x", nil))
}

func TestTrigger(t *testing.T) {
	f := newFixture(t)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, tokyo+"/trigger?at=yesterday", &apiErr))
	assert.Contains(t, apiErr.Error, "invalid at")

	// Saturday is off schedule.
	var trig api.TriggerResponse
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, tokyo+"/trigger?at=2024-03-16T09:00:00%2B09:00", &trig))
	assert.Equal(t, 0, trig.Started)
	assert.Equal(t, "Asia/Tokyo", trig.TimeZone)
}

func TestRunsAndJobs(t *testing.T) {
	f := newFixture(t)
	paused := f.pausedJob(t)

	var runs []*queue.Group
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/runs?tz=Asia/Tokyo&group=sod", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "2024-03-15", runs[0].RunDateKey())
	assert.Equal(t, queue.StatusRunning, runs[0].RunStatus)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/runs?status=finished", &runs))
	assert.Empty(t, runs)

	runID := runs0(t, f).ID.String()
	var run queue.Group
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/runs/"+runID, &run))
	assert.Equal(t, "sod", run.JobGroupName)

	var jobs []api.JobResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/runs/"+runID+"/jobs", &jobs))
	require.Len(t, jobs, 3)
	assert.Equal(t, "open", jobs[0].JobName)
	assert.Equal(t, queue.StatusPending, jobs[2].Status)
	assert.Equal(t, "0.0%", jobs[2].Progress)

	var job api.JobResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/jobs/"+paused.ID.String(), &job))
	assert.Equal(t, queue.NextPause, job.NextStep)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/runs/not-an-id", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/jobs/"+runID, nil), "run id is not a job id")
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/runs?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/runs?limit=1000", nil))
}

func TestResumeJob(t *testing.T) {
	f := newFixture(t)
	paused := f.pausedJob(t)

	var stats api.StatsResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/stats", &stats))
	require.Len(t, stats.TimeZones, 1)
	assert.Equal(t, 1, stats.TimeZones[0].ActiveRuns)

	var job api.JobResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/jobs/"+paused.ID.String()+"/resume", &job))
	assert.Equal(t, queue.NextContinue, job.NextStep)

	resumed := f.logs.records(t, "job resumed")
	require.Len(t, resumed, 1)
	assert.Equal(t, paused.ID.String(), resumed[0]["job_id"])
	assert.Equal(t, "approve", resumed[0]["job_name"])

	require.Eventually(t, func() bool {
		run, err := f.runs.GetGroup(context.Background(), paused.GroupID)
		return err == nil && run.RunStatus == queue.StatusFinished
	}, 5*time.Second, 5*time.Millisecond)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/jobs/"+paused.ID.String()+"/resume", &apiErr))
	assert.NotEmpty(t, apiErr.Error)
}

func TestEvents_StreamsLifecycle(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/events?topic=queue:default", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.srv.URL+"/v1/events?topic=tz:Asia/Tokyo&type=group.started", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Contains(t, lines.Text(), ": subscribed")

	var trig api.TriggerResponse
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, tokyo+"/trigger", &trig))

	var event, data string
	for lines.Scan() {
		line := lines.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	require.Equal(t, "group.started", event)

	var evt stream.Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	var run stream.RunEventData
	require.NoError(t, json.Unmarshal(evt.Data, &run))
	assert.Equal(t, "sod", run.Group)
	assert.Equal(t, "2024-03-15", run.RunDate)

	var stats api.StatsResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/stats", &stats))
	require.NotNil(t, stats.Stream)
	assert.Equal(t, 1, stats.Stream.SubscriberCount)
}

func runs0(t *testing.T, f *fixture) *queue.Group {
	t.Helper()
	all, err := f.runs.ListGroups(context.Background(), queue.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[0]
}

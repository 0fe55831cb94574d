package queue_test

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/schedule"
)

func TestResult_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		in       queue.Result
		status   queue.Status
		nextStep queue.NextStep
	}{
		{"empty", queue.Result{}, queue.StatusFinished, queue.NextContinue},
		{"pause kept", queue.Result{NextStep: queue.NextPause}, queue.StatusFinished, queue.NextPause},
		{"error kept", queue.Result{Status: queue.StatusError}, queue.StatusError, queue.NextContinue},
		{
			"error count forces error",
			queue.Result{Status: queue.StatusFinished, Message: &queue.Message{ErrorCount: 3}},
			queue.StatusError, queue.NextContinue,
		},
		{
			"zero error count keeps finished",
			queue.Result{Message: &queue.Message{Text: "ok"}},
			queue.StatusFinished, queue.NextContinue,
		},
		{"non-terminal status", queue.Result{Status: queue.StatusRunning}, queue.StatusError, queue.NextContinue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Status != tt.status {
				t.Errorf("Status = %q, want %q", got.Status, tt.status)
			}
			if got.NextStep != tt.nextStep {
				t.Errorf("NextStep = %q, want %q", got.NextStep, tt.nextStep)
			}
		})
	}
}

func TestResult_Constructors(t *testing.T) {
	if r := queue.Finished(); r.Status != queue.StatusFinished || r.NextStep != queue.NextContinue {
		t.Errorf("Finished() = %+v", r)
	}
	if r := queue.Paused("waiting for sign-off"); r.NextStep != queue.NextPause || r.Message.Text != "waiting for sign-off" {
		t.Errorf("Paused() = %+v", r)
	}
	r := queue.Failure(errors.New("boom"))
	if r.Status != queue.StatusError || r.Message.Code != queue.CodeFailure || r.Message.Text != "boom" {
		t.Errorf("Failure() = %+v", r)
	}
	if r.Normalize().Status != queue.StatusError {
		t.Error("a failure must stay an error after normalisation")
	}
}

func TestJob_Progress(t *testing.T) {
	tests := []struct {
		total, finished, errored int64
		want                     float64
		text                     string
	}{
		{0, 0, 0, 0, "0.0%"},
		{0, 5, 0, 0, "0.0%"},
		{200, 50, 35, 42.5, "42.5%"},
		{3, 1, 0, 100.0 / 3, "33.3%"},
		{10, 10, 0, 100, "100.0%"},
		{10, 12, 3, 100, "100.0%"},
	}

	for _, tt := range tests {
		j := &queue.Job{ItemsTotal: tt.total, ItemsFinished: tt.finished, ItemsError: tt.errored}
		if got := j.Progress(); got != tt.want {
			t.Errorf("Progress(%d/%d/%d) = %v, want %v", tt.total, tt.finished, tt.errored, got, tt.want)
		}
		if got := j.FormatProgress(); got != tt.text {
			t.Errorf("FormatProgress(%d/%d/%d) = %q, want %q", tt.total, tt.finished, tt.errored, got, tt.text)
		}
	}
}

func TestNewRun(t *testing.T) {
	s, err := schedule.New(schedule.Spec{}, time.UTC)
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}
	g, err := group.New("eod", "UTC", s, group.WithJobs(
		&group.Job{Name: "extract", Handler: "noop"},
		&group.Job{Name: "transform", Handler: "noop", Dependencies: []string{"extract"}},
		&group.Job{Name: "load", Handler: "noop", Dependencies: []string{"transform", "extract"}},
	))
	if err != nil {
		t.Fatalf("group.New: %v", err)
	}

	at := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)
	run, jobs := queue.NewRun(g, at, at)

	if run.RunStatus != queue.StatusRunning {
		t.Errorf("new run status = %q", run.RunStatus)
	}
	if run.RunDateKey() != "2024-03-15" {
		t.Errorf("run date = %s", run.RunDateKey())
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 job records, got %d", len(jobs))
	}
	for i, j := range jobs {
		if j.Position != i || j.GroupID != run.ID || j.Status != queue.StatusPending {
			t.Errorf("job %d: unexpected record %+v", i, j)
		}
	}
	if !jobs[2].DependsOnJob(jobs[0].ID) || !jobs[2].DependsOnJob(jobs[1].ID) {
		t.Errorf("load should depend on extract and transform, got %v", jobs[2].DependsOn)
	}

	roots := queue.Roots(jobs)
	if len(roots) != 1 || roots[0].JobName != "extract" {
		t.Fatalf("expected extract as the only root, got %v", roots)
	}

	// extract done: transform is ready, load still waits for transform.
	jobs[0].Apply(queue.Finished(), at)
	ready := queue.Ready(jobs, jobs[0].ID)
	if len(ready) != 1 || ready[0].JobName != "transform" {
		t.Fatalf("expected transform to be ready, got %v", ready)
	}

	// transform paused: load stays blocked.
	jobs[1].Apply(queue.Paused(""), at)
	if ready := queue.Ready(jobs, jobs[1].ID); len(ready) != 0 {
		t.Fatalf("paused dependency must hold dependents, got %v", ready)
	}
	if queue.CountUnfinished(jobs) != 1 {
		t.Errorf("expected one unfinished job, got %d", queue.CountUnfinished(jobs))
	}

	jobs[1].NextStep = queue.NextContinue
	if ready := queue.Ready(jobs, jobs[1].ID); len(ready) != 1 || ready[0].JobName != "load" {
		t.Fatalf("expected load to be ready after resume, got %v", ready)
	}

	jobs[2].Apply(queue.Failed("io", "disk full"), at)
	if got := queue.EndStatus(jobs); got != queue.StatusError {
		t.Errorf("EndStatus = %q, want error", got)
	}
}

func TestParseRunDate(t *testing.T) {
	d, err := queue.ParseRunDate("2024-03-10", "America/New_York")
	if err != nil {
		t.Fatalf("ParseRunDate: %v", err)
	}
	if d.Location().String() != "America/New_York" || d.Hour() != 0 || d.Day() != 10 {
		t.Errorf("unexpected run date %s", d)
	}
	if _, err := queue.ParseRunDate("2024-03-10", "Mars/Olympus"); err == nil {
		t.Error("expected an error for an unknown zone")
	}
}

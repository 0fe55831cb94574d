package queue

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/id"
)

// Status is the lifecycle status of a job or group run.
type Status string

const (
	// StatusPending means the job has not started.
	StatusPending Status = "pending"
	// StatusRunning means the job or run is in progress.
	StatusRunning Status = "running"
	// StatusError means the job failed, or a run had a failed job.
	StatusError Status = "error"
	// StatusFinished means the job or run completed.
	StatusFinished Status = "finished"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool { return s == StatusError || s == StatusFinished }

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusError, StatusFinished:
		return true
	}
	return false
}

// NextStep tells the orchestrator what to do after a job is terminal.
type NextStep string

const (
	// NextContinue releases the job's dependents.
	NextContinue NextStep = "continue"
	// NextPause holds the job's dependents until the job is resumed.
	NextPause NextStep = "pause"
)

// DateLayout is the wire format of a run date.
const DateLayout = "2006-01-02"

// Group is the run record of one job group on one run date.
type Group struct {
	batchflow.Entity

	ID           id.ID      `json:"id"`
	JobGroupName string     `json:"job_group_name"`
	TimeZone     string     `json:"timezone"`
	RunDate      time.Time  `json:"run_date"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	RunStatus    Status     `json:"run_status"`
}

// Closed reports whether the run has ended.
func (g *Group) Closed() bool { return g.RunStatus.Terminal() }

// RunDateKey renders the run date as YYYY-MM-DD.
func (g *Group) RunDateKey() string { return g.RunDate.Format(DateLayout) }

// Job is the run record of one job inside a group run.
type Job struct {
	batchflow.Entity

	ID            id.ID      `json:"id"`
	GroupID       id.ID      `json:"group_id"`
	JobName       string     `json:"job_name"`
	Handler       string     `json:"handler"`
	Position      int        `json:"position"`
	DependsOn     []id.ID    `json:"depends_on,omitempty"`
	Status        Status     `json:"status"`
	NextStep      NextStep   `json:"next_step,omitempty"`
	ItemsTotal    int64      `json:"items_total"`
	ItemsFinished int64      `json:"items_finished"`
	ItemsError    int64      `json:"items_error"`
	Message       *Message   `json:"message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// DependsOnNothing reports whether the job is a root job of its run.
func (j *Job) DependsOnNothing() bool { return len(j.DependsOn) == 0 }

// DependsOnJob reports whether the job waits for jobID.
func (j *Job) DependsOnJob(jobID id.ID) bool { return slices.Contains(j.DependsOn, jobID) }

// Released reports whether dependents of the job may start.
func (j *Job) Released() bool { return j.Status.Terminal() && j.NextStep == NextContinue }

// Paused reports whether the job is terminal and holding its dependents.
func (j *Job) Paused() bool { return j.Status.Terminal() && j.NextStep == NextPause }

// Progress returns the share of processed items as a percentage in
// [0, 100]. A job with no known total reports 0.
func (j *Job) Progress() float64 {
	if j.ItemsTotal <= 0 {
		return 0
	}
	p := 100 * float64(j.ItemsFinished+j.ItemsError) / float64(j.ItemsTotal)
	return min(max(p, 0), 100)
}

// FormatProgress renders Progress with one decimal, e.g. "42.5%".
func (j *Job) FormatProgress() string {
	return fmt.Sprintf("%.1f%%", j.Progress())
}

// Result returns the job's outcome as recorded in the store.
func (j *Job) Result() Result {
	r := Result{Status: j.Status, NextStep: j.NextStep}
	if j.Message != nil {
		m := *j.Message
		r.Message = &m
	}
	return r
}

// RunDate returns midnight of t's calendar date in t's own location.
func RunDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseRunDate parses a YYYY-MM-DD date as midnight in tz.
func ParseRunDate(s, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", batchflow.ErrUnknownTimeZone, tz)
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

package api

import (
	"time"

	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/queue"
	"github.com/xraph/batchflow/stream"
)

// TimeZoneResponse summarises one managed time zone.
type TimeZoneResponse struct {
	TimeZone   string `json:"timezone"`
	Groups     int    `json:"groups"`
	ActiveRuns int    `json:"active_runs"`
}

// GroupResponse is a group definition.
type GroupResponse struct {
	Name      string          `json:"name"`
	TimeZone  string          `json:"timezone"`
	Schedule  string          `json:"schedule"`
	DependsOn []string        `json:"depends_on,omitempty"`
	Jobs      []JobDefinition `json:"jobs"`
}

// JobDefinition is a job definition inside GroupResponse.
type JobDefinition struct {
	Name      string   `json:"name"`
	Handler   string   `json:"handler"`
	DependsOn []string `json:"depends_on,omitempty"`
	Timeout   string   `json:"timeout,omitempty"`
}

// NextResponse lists upcoming occurrences of a group.
type NextResponse struct {
	Group    string      `json:"group"`
	TimeZone string      `json:"timezone"`
	Next     []time.Time `json:"next"`
}

// TriggerResponse reports a manual tick.
type TriggerResponse struct {
	TimeZone string    `json:"timezone"`
	At       time.Time `json:"at"`
	Started  int       `json:"started"`
}

// JobResponse is a job record with its formatted progress.
type JobResponse struct {
	*queue.Job
	Progress string `json:"progress"`
}

// StatsResponse reports live orchestration state per time zone.
type StatsResponse struct {
	TimeZones []ZoneStats         `json:"timezones"`
	Stream    *stream.BrokerStats `json:"stream,omitempty"`
}

// ZoneStats is the live state of one time zone.
type ZoneStats struct {
	TimeZone   string `json:"timezone"`
	ActiveRuns int    `json:"active_runs"`
	ActiveJobs int    `json:"active_jobs"`
}

func groupResponse(g *group.Group) GroupResponse {
	resp := GroupResponse{
		Name:      g.Name,
		TimeZone:  g.TimeZone,
		Schedule:  g.Schedule.String(),
		DependsOn: g.Dependencies,
		Jobs:      make([]JobDefinition, 0, len(g.Jobs)),
	}
	for _, j := range g.Jobs {
		jd := JobDefinition{Name: j.Name, Handler: j.Handler, DependsOn: j.Dependencies}
		if j.Timeout > 0 {
			jd.Timeout = j.Timeout.String()
		}
		resp.Jobs = append(resp.Jobs, jd)
	}
	return resp
}

func jobResponse(j *queue.Job) JobResponse {
	return JobResponse{Job: j, Progress: j.FormatProgress()}
}

// Package group defines job groups and jobs: the static, time-zone scoped
// definitions that the orchestrator turns into runs.
//
// A Group fires on its Schedule (root groups) or after every group it
// depends on has closed its run for the same date. Jobs inside a group run
// in dependency order within one run instance. Definitions are built once
// from configuration and are safe for concurrent use; the only mutable part
// is the per-group occurrence cache, which carries its own lock.
package group

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/schedule"
)

// Job is the definition of one unit of work inside a group.
type Job struct {
	// Name is unique within the owning group.
	Name string `json:"name"`

	// TimeZone is inherited from the owning group.
	TimeZone string `json:"timezone"`

	// Handler is the registry identifier of the business logic to run.
	Handler string `json:"handler"`

	// Params is handed to the handler untouched.
	Params json.RawMessage `json:"params,omitempty"`

	// Dependencies names the jobs of the same group run that must finish
	// with NextStep continue before this job may start.
	Dependencies []string `json:"depends_on,omitempty"`

	// Timeout bounds a single execution. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// DependsOn reports whether the job declares a dependency on name.
func (j *Job) DependsOn(name string) bool {
	return slices.Contains(j.Dependencies, name)
}

// DependsOnNothing reports whether the job is a root job of its group.
func (j *Job) DependsOnNothing() bool { return len(j.Dependencies) == 0 }

// Group is a named, time-zone scoped set of jobs sharing one schedule.
type Group struct {
	Name     string             `json:"name"`
	TimeZone string             `json:"timezone"`
	Schedule *schedule.Schedule `json:"-"`

	// Dependencies names the groups, in the same time zone, whose runs
	// must close before this group starts. Empty for root groups.
	Dependencies []string `json:"depends_on,omitempty"`

	Jobs []*Job `json:"jobs"`

	cache *Cache
}

// Option configures a Group.
type Option func(*Group)

// WithDependencies declares the groups this group waits for.
func WithDependencies(names ...string) Option {
	return func(g *Group) { g.Dependencies = append(g.Dependencies, names...) }
}

// WithJobs appends job definitions in order.
func WithJobs(jobs ...*Job) Option {
	return func(g *Group) { g.Jobs = append(g.Jobs, jobs...) }
}

// WithRunningLimits sets the occurrence cache bounds: how many years
// ahead a window is walked and how many occurrences it may hold.
func WithRunningLimits(years, count int) Option {
	return func(g *Group) { g.cache = NewCache(g.Schedule, years, count) }
}

// New builds and validates a group. The schedule must be bound to the
// group's time zone.
func New(name, tz string, sched *schedule.Schedule, opts ...Option) (*Group, error) {
	g := &Group{
		Name:     strings.TrimSpace(name),
		TimeZone: tz,
		Schedule: sched,
	}
	if g.Name == "" {
		return nil, fmt.Errorf("%w: group name is empty", batchflow.ErrInvalidDefinition)
	}
	if sched == nil {
		return nil, fmt.Errorf("%w: group %q has no schedule", batchflow.ErrInvalidDefinition, g.Name)
	}
	if loc := sched.Location().String(); loc != tz {
		return nil, fmt.Errorf("%w: group %q is in %q but its schedule is in %q",
			batchflow.ErrInvalidDefinition, g.Name, tz, loc)
	}

	cfg := batchflow.DefaultConfig()
	g.cache = NewCache(sched, cfg.RunningYears, cfg.RunningCount)
	for _, opt := range opts {
		opt(g)
	}

	g.Dependencies = normalizeNames(g.Dependencies)
	if g.DependsOn(g.Name) {
		return nil, fmt.Errorf("%w: group %q depends on itself", batchflow.ErrDependencyCycle, g.Name)
	}
	if err := g.validateJobs(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) validateJobs() error {
	seen := make(map[string]*Job, len(g.Jobs))
	for _, j := range g.Jobs {
		j.Name = strings.TrimSpace(j.Name)
		if j.Name == "" {
			return fmt.Errorf("%w: group %q has a job without a name", batchflow.ErrInvalidDefinition, g.Name)
		}
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("%w: group %q has duplicate job %q", batchflow.ErrInvalidDefinition, g.Name, j.Name)
		}
		if strings.TrimSpace(j.Handler) == "" {
			return fmt.Errorf("%w: job %s/%s has no handler", batchflow.ErrInvalidDefinition, g.Name, j.Name)
		}
		if j.TimeZone == "" {
			j.TimeZone = g.TimeZone
		}
		if j.TimeZone != g.TimeZone {
			return fmt.Errorf("%w: job %s/%s is in %q, group is in %q",
				batchflow.ErrInvalidDefinition, g.Name, j.Name, j.TimeZone, g.TimeZone)
		}
		j.Dependencies = normalizeNames(j.Dependencies)
		seen[j.Name] = j
	}

	for _, j := range g.Jobs {
		for _, dep := range j.Dependencies {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("%w: job %s/%s depends on unknown job %q",
					batchflow.ErrInvalidDefinition, g.Name, j.Name, dep)
			}
		}
	}

	names := make([]string, 0, len(g.Jobs))
	for _, j := range g.Jobs {
		names = append(names, j.Name)
	}
	return checkAcyclic("group "+g.Name, names, func(n string) []string { return seen[n].Dependencies })
}

// DependsOn reports whether the group waits for the named group.
func (g *Group) DependsOn(name string) bool {
	return slices.Contains(g.Dependencies, name)
}

// DependsOnNothing reports whether the group is a root group.
func (g *Group) DependsOnNothing() bool { return len(g.Dependencies) == 0 }

// Job returns the named job definition.
func (g *Group) Job(name string) (*Job, bool) {
	for _, j := range g.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return nil, false
}

// RootJobs returns the jobs with no dependencies, in definition order.
func (g *Group) RootJobs() []*Job {
	var out []*Job
	for _, j := range g.Jobs {
		if j.DependsOnNothing() {
			out = append(out, j)
		}
	}
	return out
}

// OnSchedule reports whether the minute containing t is one of the
// group's occurrences. Answers come from the occurrence cache.
func (g *Group) OnSchedule(t time.Time) bool {
	return g.cache.Contains(t)
}

// IsDateScheduled reports whether runDate, in the group's time zone,
// carries an occurrence.
func (g *Group) IsDateScheduled(runDate time.Time) bool {
	return g.Schedule.MeetsDate(runDate)
}

// Location returns the group's time zone.
func (g *Group) Location() *time.Location { return g.Schedule.Location() }

// CacheWindow reports the current occurrence cache window.
func (g *Group) CacheWindow() Window { return g.cache.Window() }

func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

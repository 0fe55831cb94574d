package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/schedule"
)

// BuildCatalog turns the group definitions of cfg into a validated
// catalog. A malformed schedule, an unknown time zone, a dependency cycle
// or, when reg is not nil, a handler missing from reg fails the whole
// build.
func BuildCatalog(cfg *Config, reg *handler.Registry) (*group.Catalog, error) {
	groups := make([]*group.Group, 0, len(cfg.Groups))
	for i := range cfg.Groups {
		g, err := buildGroup(&cfg.Groups[i], cfg.Scheduler)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}

	if reg != nil {
		if err := reg.Validate(groups...); err != nil {
			return nil, err
		}
	}
	return group.NewCatalog(groups...)
}

func buildGroup(gc *GroupConfig, sc SchedulerConfig) (*group.Group, error) {
	loc, err := time.LoadLocation(gc.TimeZone)
	if err != nil || gc.TimeZone == "" {
		return nil, fmt.Errorf("%w: group %q: %q", batchflow.ErrUnknownTimeZone, gc.Name, gc.TimeZone)
	}
	sched, err := schedule.New(gc.Schedule, loc)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", gc.Name, err)
	}

	jobs := make([]*group.Job, 0, len(gc.Jobs))
	for _, jc := range gc.Jobs {
		j := &group.Job{
			Name:         jc.Name,
			Handler:      jc.Handler,
			Dependencies: jc.DependsOn,
			Timeout:      jc.Timeout,
		}
		if len(jc.Params) > 0 {
			raw, err := json.Marshal(jc.Params)
			if err != nil {
				return nil, fmt.Errorf("%w: params of %s/%s: %v", batchflow.ErrInvalidDefinition, gc.Name, jc.Name, err)
			}
			j.Params = raw
		}
		jobs = append(jobs, j)
	}

	opts := []group.Option{
		group.WithDependencies(gc.DependsOn...),
		group.WithJobs(jobs...),
	}
	if sc.RunningYears > 0 && sc.RunningCount > 0 {
		opts = append(opts, group.WithRunningLimits(sc.RunningYears, sc.RunningCount))
	}
	return group.New(gc.Name, gc.TimeZone, sched, opts...)
}

// ──────────────────────────────────────────────────
// Rendering
// ──────────────────────────────────────────────────

type groupView struct {
	Name      string    `yaml:"name"`
	TimeZone  string    `yaml:"timezone"`
	Schedule  string    `yaml:"schedule"`
	DependsOn []string  `yaml:"depends_on,omitempty"`
	Next      []string  `yaml:"next,omitempty"`
	Jobs      []jobView `yaml:"jobs"`
}

type jobView struct {
	Name      string   `yaml:"name"`
	Handler   string   `yaml:"handler"`
	DependsOn []string `yaml:"depends_on,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty"`
}

// Render writes the normalised definitions of cat as YAML, grouped by
// time zone. When next is positive every group lists its next
// occurrences from now.
func Render(ctx context.Context, cat *group.Catalog, now time.Time, next int) ([]byte, error) {
	zones, err := cat.TimeZones(ctx)
	if err != nil {
		return nil, err
	}

	var out []groupView
	for _, tz := range zones {
		groups, err := cat.Groups(ctx, tz)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			out = append(out, viewOf(g, now, next))
		}
	}

	b, err := yaml.Marshal(map[string][]groupView{"groups": out})
	if err != nil {
		return nil, fmt.Errorf("render definitions: %w", err)
	}
	return b, nil
}

func viewOf(g *group.Group, now time.Time, next int) groupView {
	v := groupView{
		Name:      g.Name,
		TimeZone:  g.TimeZone,
		Schedule:  g.Schedule.String(),
		DependsOn: g.Dependencies,
	}
	if next > 0 {
		t := now
		for len(v.Next) < next {
			at, ok := g.Schedule.NextScheduledTime(t)
			if !ok {
				break
			}
			v.Next = append(v.Next, at.Format(time.RFC3339))
			t = at.Add(time.Minute)
		}
	}
	for _, j := range g.Jobs {
		jv := jobView{Name: j.Name, Handler: j.Handler, DependsOn: j.Dependencies}
		if j.Timeout > 0 {
			jv.Timeout = j.Timeout.String()
		}
		v.Jobs = append(v.Jobs, jv)
	}
	return v
}

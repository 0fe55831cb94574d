package group

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/schedule"
)

var _ Store = (*Catalog)(nil)

type zone struct {
	order  []*Group
	byName map[string]*Group
}

// Catalog is an immutable, validated set of group definitions. It
// implements Store and is the usual definition source: configuration is
// loaded once at process start and handed to the engine as a Catalog.
type Catalog struct {
	zones map[string]*zone
}

// NewCatalog validates groups as one set: names are unique per time
// zone, every group dependency names a group of the same zone, and the
// group dependency graph of each zone is acyclic.
func NewCatalog(groups ...*Group) (*Catalog, error) {
	c := &Catalog{zones: make(map[string]*zone)}

	for _, g := range groups {
		z := c.zones[g.TimeZone]
		if z == nil {
			z = &zone{byName: make(map[string]*Group)}
			c.zones[g.TimeZone] = z
		}
		if _, dup := z.byName[g.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate group %q in %s", batchflow.ErrInvalidDefinition, g.Name, g.TimeZone)
		}
		z.byName[g.Name] = g
		z.order = append(z.order, g)
	}

	for tz, z := range c.zones {
		names := make([]string, 0, len(z.order))
		for _, g := range z.order {
			for _, dep := range g.Dependencies {
				if _, ok := z.byName[dep]; !ok {
					return nil, fmt.Errorf("%w: group %q in %s depends on unknown group %q",
						batchflow.ErrInvalidDefinition, g.Name, tz, dep)
				}
			}
			names = append(names, g.Name)
		}
		err := checkAcyclic("time zone "+tz, names, func(n string) []string {
			return z.byName[n].Dependencies
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TimeZones lists the catalog's time zones in lexical order.
func (c *Catalog) TimeZones(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(c.zones))
	for tz := range c.zones {
		out = append(out, tz)
	}
	sort.Strings(out)
	return out, nil
}

// Groups lists every group of tz.
func (c *Catalog) Groups(_ context.Context, tz string) ([]*Group, error) {
	z := c.zones[tz]
	if z == nil {
		return nil, nil
	}
	return append([]*Group(nil), z.order...), nil
}

// RootGroups lists the groups of tz with no group dependency.
func (c *Catalog) RootGroups(_ context.Context, tz string) ([]*Group, error) {
	return c.filter(tz, func(g *Group) bool { return g.DependsOnNothing() }), nil
}

// DependentGroups lists the groups of tz that depend on name.
func (c *Catalog) DependentGroups(_ context.Context, name, tz string) ([]*Group, error) {
	return c.filter(tz, func(g *Group) bool { return g.DependsOn(name) }), nil
}

// Group returns the named group, or batchflow.ErrGroupNotFound.
func (c *Catalog) Group(_ context.Context, name, tz string) (*Group, error) {
	if z := c.zones[tz]; z != nil {
		if g, ok := z.byName[name]; ok {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", batchflow.ErrGroupNotFound, name, tz)
}

// Schedule returns the named group's schedule.
func (c *Catalog) Schedule(ctx context.Context, name, tz string) (*schedule.Schedule, error) {
	g, err := c.Group(ctx, name, tz)
	if err != nil {
		return nil, err
	}
	return g.Schedule, nil
}

func (c *Catalog) filter(tz string, keep func(*Group) bool) []*Group {
	z := c.zones[tz]
	if z == nil {
		return nil
	}
	var out []*Group
	for _, g := range z.order {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}

package group

import (
	"context"

	"github.com/xraph/batchflow/schedule"
)

// Store is the read side of the storage port: the group and schedule
// definitions, per time zone.
type Store interface {
	// TimeZones lists every time zone that has at least one group.
	TimeZones(ctx context.Context) ([]string, error)

	// Groups lists every group of a time zone in definition order.
	Groups(ctx context.Context, tz string) ([]*Group, error)

	// RootGroups lists the groups of a time zone that depend on no other
	// group.
	RootGroups(ctx context.Context, tz string) ([]*Group, error)

	// Group returns one group definition.
	Group(ctx context.Context, name, tz string) (*Group, error)

	// Schedule returns the schedule of one group.
	Schedule(ctx context.Context, name, tz string) (*schedule.Schedule, error)

	// DependentGroups lists the groups of a time zone that declare a
	// dependency on the named group.
	DependentGroups(ctx context.Context, name, tz string) ([]*Group, error)
}

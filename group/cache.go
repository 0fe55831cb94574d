package group

import (
	"sort"
	"sync"
	"time"

	"github.com/xraph/batchflow/schedule"
)

// Window describes the instants an occurrence cache currently covers.
type Window struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Occurrences int       `json:"occurrences"`
	Recomputes  int       `json:"recomputes"`
}

// Cache memoizes a schedule's occurrences over a window [from, to].
// Every occurrence inside the window is held in sorted order, so a query
// inside it is a binary search. A query outside it recomputes the window
// starting at the queried minute. Each Cache is guarded by its own mutex.
type Cache struct {
	mu sync.Mutex

	sched *schedule.Schedule
	years int
	count int

	valid       bool
	from, to    time.Time
	occurrences []time.Time
	recomputes  int
}

// NewCache creates a cache walking at most count occurrences no further
// than years ahead. Non-positive limits fall back to one year and 1000
// occurrences.
func NewCache(sched *schedule.Schedule, years, count int) *Cache {
	if years <= 0 {
		years = 1
	}
	if count <= 0 {
		count = 1000
	}
	return &Cache{sched: sched, years: years, count: count}
}

// Contains reports whether the minute containing t is an occurrence.
func (c *Cache) Contains(t time.Time) bool {
	t = t.Truncate(time.Minute)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || t.Before(c.from) || t.After(c.to) {
		c.recompute(t)
	}

	i := sort.Search(len(c.occurrences), func(i int) bool {
		return !c.occurrences[i].Before(t)
	})
	return i < len(c.occurrences) && c.occurrences[i].Equal(t)
}

// recompute walks a fresh window from t. A full window ends at its last
// occurrence; a short one (including an empty one, for an exhausted
// schedule) spans the whole horizon so it is not walked again every minute.
func (c *Cache) recompute(t time.Time) {
	horizon := t.AddDate(c.years, 0, 0)
	occ := c.sched.Occurrences(t, horizon, c.count)

	c.from = t
	c.to = horizon
	if len(occ) >= c.count {
		c.to = occ[len(occ)-1]
	}
	c.occurrences = occ
	c.valid = true
	c.recomputes++
}

// Window returns a snapshot of the current window.
func (c *Cache) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Window{
		From:        c.from,
		To:          c.to,
		Occurrences: len(c.occurrences),
		Recomputes:  c.recomputes,
	}
}

// Package throttle limits how fast and how many jobs may start per lane.
// The orchestrator uses one lane per time zone.
package throttle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config defines per-lane limits.
type Config struct {
	// Name is the lane identifier.
	Name string

	// MaxConcurrency limits how many jobs of this lane may run at once.
	// Zero means no limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained job starts per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// laneState tracks runtime state for a single lane.
type laneState struct {
	config  Config
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	active  int
}

// Manager controls per-lane rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	lanes map[string]*laneState
}

// NewManager creates a Manager with the given lane configurations.
// Lanes not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{lanes: make(map[string]*laneState, len(configs))}
	for _, cfg := range configs {
		m.lanes[cfg.Name] = newLaneState(cfg)
	}
	return m
}

func newLaneState(cfg Config) *laneState {
	ls := &laneState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		ls.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return ls
}

func (m *Manager) lane(name string) *laneState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lanes[name]
}

// Acquire blocks until the lane's rate limiter and concurrency limit
// both admit one more job, or ctx is done. The caller MUST call Release
// once the job completes if Acquire returned nil.
func (m *Manager) Acquire(ctx context.Context, name string) error {
	ls := m.lane(name)
	if ls == nil {
		return nil
	}
	if ls.limiter != nil {
		if err := ls.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if ls.slots != nil {
		if err := ls.slots.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	m.mu.Lock()
	ls.active++
	m.mu.Unlock()
	return nil
}

// TryAcquire is the non-blocking form of Acquire.
func (m *Manager) TryAcquire(name string) bool {
	ls := m.lane(name)
	if ls == nil {
		return true
	}
	if ls.limiter != nil && !ls.limiter.Allow() {
		return false
	}
	if ls.slots != nil && !ls.slots.TryAcquire(1) {
		return false
	}
	m.mu.Lock()
	ls.active++
	m.mu.Unlock()
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (m *Manager) Release(name string) {
	ls := m.lane(name)
	if ls == nil {
		return
	}
	m.mu.Lock()
	if ls.active == 0 {
		m.mu.Unlock()
		return
	}
	ls.active--
	m.mu.Unlock()
	if ls.slots != nil {
		ls.slots.Release(1)
	}
}

// ActiveCount returns the number of jobs currently holding a slot.
func (m *Manager) ActiveCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls := m.lanes[name]; ls != nil {
		return ls.active
	}
	return 0
}

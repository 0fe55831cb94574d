package batchflow

import "time"

// Config holds the engine tunables shared by every time zone.
//
// RunningYears and RunningCount take effect when groups are built
// (config.BuildCatalog passes them to group.WithRunningLimits). The
// engine does not rebuild the caches of groups it is handed.
type Config struct {
	// RunningYears bounds how far ahead a group's occurrence cache is
	// walked when it is recomputed.
	RunningYears int

	// RunningCount caps the number of occurrences cached per window.
	RunningCount int

	// MaxConcurrency limits how many jobs may run at once per time zone.
	// Zero means no limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained job starts per second per time
	// zone. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst for RateLimit.
	RateBurst int

	// ShutdownTimeout is the maximum time to wait for in-flight runs on
	// shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RunningYears:    2,
		RunningCount:    1000,
		ShutdownTimeout: 30 * time.Second,
	}
}

package batchflow

import "time"

// Option adjusts a Config.
type Option func(*Config)

// NewConfig returns DefaultConfig with the given options applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithRunningYears sets how many years ahead occurrence caches are walked.
func WithRunningYears(n int) Option {
	return func(c *Config) { c.RunningYears = n }
}

// WithRunningCount caps the number of cached occurrences per window.
func WithRunningCount(n int) Option {
	return func(c *Config) { c.RunningCount = n }
}

// WithMaxConcurrency limits concurrent jobs per time zone.
func WithMaxConcurrency(n int) Option {
	return func(c *Config) { c.MaxConcurrency = n }
}

// WithRateLimit sets the per time zone job start rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = perSecond
		c.RateBurst = burst
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// Package config loads batchflow configuration with viper: a YAML file,
// overridden by BATCHFLOW_-prefixed environment variables, decoded
// through mapstructure hooks. It also turns the group definitions of a
// configuration into a validated group.Catalog.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/schedule"
)

// EnvPrefix prefixes every environment override, e.g.
// BATCHFLOW_STORE_DSN for store.dsn.
const EnvPrefix = "BATCHFLOW"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Audit     AuditConfig     `mapstructure:"audit" yaml:"audit"`
	Groups    []GroupConfig   `mapstructure:"groups" yaml:"groups"`
}

// SchedulerConfig mirrors batchflow.Config.
type SchedulerConfig struct {
	RunningYears    int           `mapstructure:"running_years" yaml:"running_years"`
	RunningCount    int           `mapstructure:"running_count" yaml:"running_count"`
	MaxConcurrency  int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Engine converts the section to engine tunables.
func (s SchedulerConfig) Engine() batchflow.Config {
	return batchflow.NewConfig(
		batchflow.WithRunningYears(s.RunningYears),
		batchflow.WithRunningCount(s.RunningCount),
		batchflow.WithMaxConcurrency(s.MaxConcurrency),
		batchflow.WithRateLimit(s.RateLimit, s.RateBurst),
		batchflow.WithShutdownTimeout(s.ShutdownTimeout),
	)
}

// StoreConfig selects and configures the run-state backend.
type StoreConfig struct {
	Driver string      `mapstructure:"driver" yaml:"driver"`
	DSN    string      `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Redis  RedisConfig `mapstructure:"redis" yaml:"redis,omitempty"`

	// ConnectAttempts bounds the pings made while the backend comes up.
	ConnectAttempts int `mapstructure:"connect_attempts" yaml:"connect_attempts"`
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr,omitempty"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db,omitempty"`
}

// AuditConfig enables the audit trail written to the process log.
// Empty Actions means the operator actions of the audit_hook package.
type AuditConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Actions []string `mapstructure:"actions" yaml:"actions,omitempty"`
}

// HTTPConfig configures the admin API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// GroupConfig is one job group definition.
type GroupConfig struct {
	Name      string        `mapstructure:"name" yaml:"name"`
	TimeZone  string        `mapstructure:"timezone" yaml:"timezone"`
	Schedule  schedule.Spec `mapstructure:"schedule" yaml:"schedule"`
	DependsOn []string      `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	Jobs      []JobConfig   `mapstructure:"jobs" yaml:"jobs"`
}

// JobConfig is one job definition inside a group.
type JobConfig struct {
	Name      string         `mapstructure:"name" yaml:"name"`
	Handler   string         `mapstructure:"handler" yaml:"handler"`
	Params    map[string]any `mapstructure:"params" yaml:"params,omitempty"`
	DependsOn []string       `mapstructure:"depends_on" yaml:"depends_on,omitempty"`
	Timeout   time.Duration  `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Load reads the configuration. path may be empty, in which case
// batchflow.yaml is looked up in the working directory and ./config, and
// its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("batchflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		trimSpaceHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// trimSpaceHook trims strings so that "a, b" lists and padded env
// values decode cleanly.
func trimSpaceHook() mapstructure.DecodeHookFuncKind {
	return func(from, _ reflect.Kind, data any) (any, error) {
		if from != reflect.String {
			return data, nil
		}
		return strings.TrimSpace(reflect.ValueOf(data).String()), nil
	}
}

func setDefaults(v *viper.Viper) {
	d := batchflow.DefaultConfig()
	v.SetDefault("scheduler.running_years", d.RunningYears)
	v.SetDefault("scheduler.running_count", d.RunningCount)
	v.SetDefault("scheduler.max_concurrency", d.MaxConcurrency)
	v.SetDefault("scheduler.rate_limit", d.RateLimit)
	v.SetDefault("scheduler.rate_burst", d.RateBurst)
	v.SetDefault("scheduler.shutdown_timeout", d.ShutdownTimeout.String())

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.connect_attempts", 5)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("audit.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks the process settings. Group definitions are validated
// by BuildCatalog.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", batchflow.ErrInvalidDefinition)
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required for the redis driver", batchflow.ErrInvalidDefinition)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", batchflow.ErrInvalidDefinition, c.Store.Driver)
	}

	if c.Store.ConnectAttempts <= 0 {
		return fmt.Errorf("%w: store.connect_attempts must be positive", batchflow.ErrInvalidDefinition)
	}

	if c.Scheduler.RunningYears <= 0 || c.Scheduler.RunningCount <= 0 {
		return fmt.Errorf("%w: scheduler.running_years and scheduler.running_count must be positive",
			batchflow.ErrInvalidDefinition)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", batchflow.ErrInvalidDefinition, c.Log.Format)
	}
	return nil
}

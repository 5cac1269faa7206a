package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values
const (
	DefaultEndpoint      = "https://www.tikwm.com/api/"
	DefaultMaxRetries    = 3
	DefaultGroupSize     = 1
	DefaultPacing        = 1300 * time.Millisecond
	DefaultFetchParallel = 3
	DefaultLogLevel      = "info"
	DefaultLogEncoding   = "console"
)

// Config holds all tunables of the resolution pipeline
type Config struct {
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

type ResolverConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type SchedulerConfig struct {
	GroupSize int           `mapstructure:"group_size"`
	Pacing    time.Duration `mapstructure:"pacing"`
}

type ArchiveConfig struct {
	FetchParallel int `mapstructure:"fetch_parallel"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Resolver: ResolverConfig{
			Endpoint:   DefaultEndpoint,
			MaxRetries: DefaultMaxRetries,
		},
		Scheduler: SchedulerConfig{
			GroupSize: DefaultGroupSize,
			Pacing:    DefaultPacing,
		},
		Archive: ArchiveConfig{
			FetchParallel: DefaultFetchParallel,
		},
		Logger: LoggerConfig{
			Level:    DefaultLogLevel,
			Encoding: DefaultLogEncoding,
		},
	}
}

// Load reads configuration from an optional file plus LINKGRAB_* environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("resolver.endpoint", defaults.Resolver.Endpoint)
	v.SetDefault("resolver.max_retries", defaults.Resolver.MaxRetries)
	v.SetDefault("scheduler.group_size", defaults.Scheduler.GroupSize)
	v.SetDefault("scheduler.pacing", defaults.Scheduler.Pacing)
	v.SetDefault("archive.fetch_parallel", defaults.Archive.FetchParallel)
	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.encoding", defaults.Logger.Encoding)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Resolver.Endpoint == "" {
		return fmt.Errorf("resolver.endpoint must not be empty")
	}
	if c.Resolver.MaxRetries < 0 {
		return fmt.Errorf("resolver.max_retries must not be negative")
	}
	if c.Scheduler.GroupSize < 1 {
		return fmt.Errorf("scheduler.group_size must be at least 1")
	}
	if c.Scheduler.Pacing < 0 {
		return fmt.Errorf("scheduler.pacing must not be negative")
	}
	if c.Archive.FetchParallel < 1 {
		return fmt.Errorf("archive.fetch_parallel must be at least 1")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	mapstructure "github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "pulse"
)

// Config is the full runtime configuration for the API server and the
// background workers.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// WorkersConfig holds the polling intervals and recovery thresholds for the
// splitter, slice executor and timeout monitor loops.
type WorkersConfig struct {
	SplitterInterval  time.Duration `mapstructure:"splitter_interval"`
	ExecutorInterval  time.Duration `mapstructure:"executor_interval"`
	ExecutorBatchSize int           `mapstructure:"executor_batch_size"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	SplitTimeout      time.Duration `mapstructure:"split_timeout"`
	ExecutionTimeout  time.Duration `mapstructure:"execution_timeout"`
}

// Load reads the optional config file and merges environment overrides
// (PULSE_* variables) on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicitly requested
		// one is not.
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if !missing || explicit {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the workers cannot run with.
func (c *Config) Validate() error {
	if c.Workers.SplitterInterval <= 0 {
		return errors.New("workers.splitter_interval must be positive")
	}
	if c.Workers.ExecutorInterval <= 0 {
		return errors.New("workers.executor_interval must be positive")
	}
	if c.Workers.ExecutorBatchSize <= 0 {
		return errors.New("workers.executor_batch_size must be positive")
	}
	if c.Workers.MonitorInterval <= 0 {
		return errors.New("workers.monitor_interval must be positive")
	}
	if c.Workers.SplitTimeout <= 0 {
		return errors.New("workers.split_timeout must be positive")
	}
	if c.Workers.ExecutionTimeout <= 0 {
		return errors.New("workers.execution_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("database.path", "pulse.db")

	v.SetDefault("auth.jwt_secret", "pulse-secret-key")

	v.SetDefault("workers.splitter_interval", "1s")
	v.SetDefault("workers.executor_interval", "500ms")
	v.SetDefault("workers.executor_batch_size", 20)
	v.SetDefault("workers.monitor_interval", "30s")
	v.SetDefault("workers.split_timeout", "2m")
	v.SetDefault("workers.execution_timeout", "1m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}
}

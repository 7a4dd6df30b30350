// Package config provides process-level configuration for the weft CLI.
//
// Configuration is resolved with the precedence: environment variables
// (WEFT_ prefix) > runtime overrides > optional config file > defaults.
// Workflow files are separate: they declare rules, this package only
// configures the tool itself.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the resolved tool configuration.
type Config struct {
	// Run holds execution defaults, overridable per invocation by flags.
	Run RunConfig `mapstructure:"run"`

	// Logging configures the CLI logger.
	Logging LoggingConfig `mapstructure:"logging"`

	// Monitor configures the optional run monitor HTTP server.
	Monitor MonitorConfig `mapstructure:"monitor"`
}

// RunConfig holds execution defaults.
type RunConfig struct {
	// Cores is the default core budget (0 = unlimited).
	Cores int `mapstructure:"cores"`

	// StateDir is the directory for the sidecar store, logs, and scripts.
	StateDir string `mapstructure:"state_dir"`

	// Events is a JSONL file path receiving run events ("" = stdout only
	// when requested by flag).
	Events string `mapstructure:"events"`

	// KeepGoing continues independent branches after a failure.
	KeepGoing bool `mapstructure:"keep_going"`

	// MaxStartsPerSec throttles job starts (0 = unlimited).
	MaxStartsPerSec float64 `mapstructure:"max_starts_per_sec"`

	// Executor selects the runner: "local" or "cluster".
	Executor string `mapstructure:"executor"`

	// SubmitCmd is the blocking cluster submission command.
	SubmitCmd string `mapstructure:"submit_cmd"`

	// StoreTimeout bounds sidecar store operations.
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// MonitorConfig configures the run monitor server.
type MonitorConfig struct {
	// Addr is the listen address (e.g. "localhost:9911").
	Addr string `mapstructure:"addr"`

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown at run end.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// Load resolves the configuration, applying optional runtime overrides on
// top of environment variables and defaults. The result becomes the
// process-wide config returned by GetConfig.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Optional tool config file in the working directory. A missing file
	// is not an error; a malformed one is.
	v.SetConfigName("weft")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("failed to apply config overrides: %w", err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or defaults if Load
// has not been called.
func GetConfig() *Config {
	configMu.RLock()
	cfg := appConfig
	configMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	loaded, err := Load(context.Background())
	if err != nil {
		// Defaults cannot fail to decode; this path only triggers on a
		// malformed config file, which the caller will hit again on the
		// next explicit Load.
		return &Config{}
	}
	return loaded
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.cores", 1)
	v.SetDefault("run.state_dir", ".weft")
	v.SetDefault("run.events", "")
	v.SetDefault("run.keep_going", true)
	v.SetDefault("run.max_starts_per_sec", 0.0)
	v.SetDefault("run.executor", "local")
	v.SetDefault("run.submit_cmd", "")
	v.SetDefault("run.store_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")

	v.SetDefault("monitor.addr", "")
	v.SetDefault("monitor.read_timeout", 10*time.Second)
	v.SetDefault("monitor.write_timeout", 10*time.Second)
	v.SetDefault("monitor.shutdown_timeout", 5*time.Second)
}

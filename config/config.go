// Package config loads database settings from a YAML file and COLGO_*
// environment variables and turns them into colgo options.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/colgo"
)

// EnvPrefix is the prefix of environment variables that override file
// settings, e.g. COLGO_LOG_LEVEL or COLGO_STORAGE_WORKERS.
const EnvPrefix = "COLGO"

// Config holds the settings of one database.
type Config struct {
	Path string `mapstructure:"path"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Storage struct {
		Durability         string        `mapstructure:"durability"`
		TruncateCorrupt    bool          `mapstructure:"truncate_corrupt"`
		Preload            bool          `mapstructure:"preload"`
		Workers            int           `mapstructure:"workers"`
		MemoryLimit        int64         `mapstructure:"memory_limit"`
		IOLimit            int64         `mapstructure:"io_limit"`
		LockTimeout        time.Duration `mapstructure:"lock_timeout"`
		MaterializeRetries int           `mapstructure:"materialize_retries"`
		MaterializeWait    time.Duration `mapstructure:"materialize_wait"`
	} `mapstructure:"storage"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.durability", "sync")
	v.SetDefault("storage.lock_timeout", 10*time.Second)
	v.SetDefault("storage.materialize_retries", 8)
	v.SetDefault("storage.materialize_wait", 250*time.Millisecond)
}

// Load reads the config file at path. An empty path uses defaults and the
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// AutomaticEnv only applies to keys viper knows about.
	for _, key := range []string{"path", "storage.truncate_corrupt", "storage.preload", "storage.workers", "storage.memory_limit", "storage.io_limit"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "none":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text, json or none", c.Log.Format))
	}
	switch strings.ToLower(c.Storage.Durability) {
	case "sync", "async":
	default:
		errs = append(errs, fmt.Errorf("storage.durability %q: want sync or async", c.Storage.Durability))
	}
	if c.Storage.Workers < 0 || c.Storage.MemoryLimit < 0 || c.Storage.IOLimit < 0 {
		errs = append(errs, errors.New("storage limits must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", colgo.ErrInvalidArgument, err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// Options converts c into options for colgo.Open and colgo.Create.
func (c *Config) Options() []colgo.Option {
	level, _ := parseLevel(c.Log.Level)

	var opts []colgo.Option
	switch strings.ToLower(c.Log.Format) {
	case "json":
		opts = append(opts, colgo.WithLogger(colgo.NewJSONLogger(level)))
	case "text":
		opts = append(opts, colgo.WithLogger(colgo.NewTextLogger(level)))
	}

	if strings.EqualFold(c.Storage.Durability, "async") {
		opts = append(opts, colgo.WithDurability(colgo.DurabilityAsync))
	}
	if c.Storage.TruncateCorrupt {
		opts = append(opts, colgo.WithTruncateCorruptSpecs())
	}
	if c.Storage.Preload {
		opts = append(opts, colgo.WithPreload())
	}
	if c.Storage.Workers > 0 {
		opts = append(opts, colgo.WithWorkers(c.Storage.Workers))
	}
	if c.Storage.MemoryLimit > 0 {
		opts = append(opts, colgo.WithMemoryLimit(c.Storage.MemoryLimit))
	}
	if c.Storage.IOLimit > 0 {
		opts = append(opts, colgo.WithIOLimit(c.Storage.IOLimit))
	}
	if c.Storage.LockTimeout > 0 {
		opts = append(opts, colgo.WithLockTimeout(c.Storage.LockTimeout))
	}
	if c.Storage.MaterializeRetries > 0 {
		opts = append(opts, colgo.WithMaterializeRetries(c.Storage.MaterializeRetries, c.Storage.MaterializeWait))
	}
	return opts
}

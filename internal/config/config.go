// Package config loads rescue's configuration from YAML, environment
// variables prefixed with RESCUE_, and defaults, in increasing order of
// precedence: defaults < file < environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/rescue/pkg/logging"
	"github.com/psantana5/rescue/pkg/retry"
)

// EnvPrefix is prepended to environment overrides, e.g. RESCUE_RETRY_LIMIT.
const EnvPrefix = "RESCUE"

// Config is the complete configuration.
type Config struct {
	Retry   RetryConfig   `yaml:"retry" json:"retry" mapstructure:"retry"`
	Session SessionConfig `yaml:"session" json:"session" mapstructure:"session"`
	Log     LogConfig     `yaml:"log" json:"log" mapstructure:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// RetryConfig configures retry policies built by the CLI.
type RetryConfig struct {
	Limit          string  `yaml:"limit" json:"limit" mapstructure:"limit"`                               // e.g. "1", "5", "unlimited"
	InitialBackoff string  `yaml:"initial_backoff" json:"initial_backoff" mapstructure:"initial_backoff"` // e.g. "0s", "100ms"
	MaxBackoff     string  `yaml:"max_backoff" json:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64 `yaml:"multiplier" json:"multiplier" mapstructure:"multiplier"`
	RateLimit      float64 `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit"` // attempts per second, 0 disables
	Burst          int     `yaml:"burst" json:"burst" mapstructure:"burst"`
}

// SessionConfig configures interactive sessions.
type SessionConfig struct {
	Prompt string `yaml:"prompt" json:"prompt" mapstructure:"prompt"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level" mapstructure:"level"`
	JSON  bool   `yaml:"json" json:"json" mapstructure:"json"`
	File  string `yaml:"file" json:"file" mapstructure:"file"` // empty logs to stdout
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr" mapstructure:"addr"` // empty disables the endpoint
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	ServiceName string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
	Environment string `yaml:"environment" json:"environment" mapstructure:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{
			Limit:          "1",
			InitialBackoff: "0s",
			MaxBackoff:     "0s",
			Multiplier:     2.0,
		},
		Session: SessionConfig{Prompt: ">>> "},
		Log:     LogConfig{Level: "info"},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "rescue",
			Environment: "development",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("retry.limit", d.Retry.Limit)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.rate_limit", d.Retry.RateLimit)
	v.SetDefault("retry.burst", d.Retry.Burst)
	v.SetDefault("session.prompt", d.Session.Prompt)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
}

// Validate checks every field that is parsed later.
func (c *Config) Validate() error {
	if _, err := c.Retry.ParsedLimit(); err != nil {
		return fmt.Errorf("retry.limit: %w", err)
	}
	if _, err := c.Retry.Backoff(); err != nil {
		return err
	}
	if c.Retry.RateLimit < 0 {
		return fmt.Errorf("retry.rate_limit must not be negative, got %v", c.Retry.RateLimit)
	}
	return nil
}

// ParsedLimit returns the retry limit.
func (r RetryConfig) ParsedLimit() (retry.Limit, error) {
	return retry.ParseLimit(r.Limit)
}

// Backoff returns the backoff between retry attempts.
func (r RetryConfig) Backoff() (retry.Config, error) {
	initial, err := time.ParseDuration(r.InitialBackoff)
	if err != nil {
		return retry.Config{}, fmt.Errorf("retry.initial_backoff: %w", err)
	}
	maxBackoff, err := time.ParseDuration(r.MaxBackoff)
	if err != nil {
		return retry.Config{}, fmt.Errorf("retry.max_backoff: %w", err)
	}
	return retry.Config{
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
		Multiplier:     r.Multiplier,
	}, nil
}

// Policy builds a retry policy from the configuration. A limit given
// explicitly (e.g. from a flag) overrides the configured one.
func (r RetryConfig) Policy(override string, opts ...retry.Option) (*retry.Policy, error) {
	limitStr := r.Limit
	if override != "" {
		limitStr = override
	}
	limit, err := retry.ParseLimit(limitStr)
	if err != nil {
		return nil, err
	}
	backoff, err := r.Backoff()
	if err != nil {
		return nil, err
	}

	all := []retry.Option{retry.WithBackoff(backoff)}
	if r.RateLimit > 0 {
		burst := r.Burst
		if burst < 1 {
			burst = 1
		}
		all = append(all, retry.WithRateLimit(rate.Limit(r.RateLimit), burst))
	}
	return retry.New(limit, append(all, opts...)...)
}

// Logger builds the logger described by the configuration.
func (l LogConfig) Logger(component string) (*logging.Logger, error) {
	level := logging.ParseLevel(l.Level)
	if l.File != "" {
		return logging.NewFileLogger(component, l.File, level, l.JSON)
	}
	return logging.NewLogger(level, l.JSON), nil
}

// DefaultPath returns $HOME/.rescue/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".rescue", "config.yaml"), nil
}

// Loader owns a viper instance and the most recently loaded Config.
type Loader struct {
	v      *viper.Viper
	logger *logging.Logger

	mu      sync.RWMutex
	current *Config
}

// NewLoader reads configuration from path, or from $HOME/.rescue/config.yaml
// when path is empty. A missing default file is not an error.
func NewLoader(path string, logger *logging.Logger) (*Loader, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to find home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".rescue"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logger.Debug("No config file found, using defaults")
	}

	l := &Loader{v: v, logger: logger}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Load is NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path, nil)
	if err != nil {
		return nil, err
	}
	return l.Config(), nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the configuration whenever the file changes. Invalid edits
// are logged and the previous configuration stays in effect.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("Ignoring config change", map[string]interface{}{
				"file":  e.Name,
				"error": err.Error(),
			})
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		l.logger.Info("Config reloaded", map[string]interface{}{"file": e.Name, "op": e.Op.String()})
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// WriteFile writes c to path, creating the parent directory. An existing
// file is only replaced when force is set.
func WriteFile(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()
	return c.Dump(f)
}

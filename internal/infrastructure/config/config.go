package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
	Pool      PoolConfig      `yaml:"pool" toml:"pool"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"rps" toml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// SandboxConfig holds execution coordinator configuration.
type SandboxConfig struct {
	Timeout        Duration `envconfig:"SANDBOX_TIMEOUT" yaml:"timeout" toml:"timeout"`
	Grace          Duration `envconfig:"SANDBOX_GRACE" yaml:"grace" toml:"grace"`
	Workers        int      `envconfig:"SANDBOX_WORKERS" yaml:"workers" toml:"workers"`
	QueueSize      int      `envconfig:"SANDBOX_QUEUE" yaml:"queue_size" toml:"queue_size"`
	MaxSourceBytes int      `envconfig:"SANDBOX_MAX_SOURCE_BYTES" yaml:"max_source_bytes" toml:"max_source_bytes"`
	MaxLogEntries  int      `envconfig:"SANDBOX_MAX_LOG_ENTRIES" yaml:"max_log_entries" toml:"max_log_entries"`
	PluginDir      string   `envconfig:"PLUGIN_DIR" yaml:"plugin_dir" toml:"plugin_dir"`
	Allowlist      []string `envconfig:"SANDBOX_ALLOWLIST" yaml:"allowlist" toml:"allowlist"`
}

// PoolConfig holds interpreter context pool configuration.
type PoolConfig struct {
	Warm            int      `envconfig:"POOL_WARM" yaml:"warm" toml:"warm"`
	MaxSize         int      `envconfig:"POOL_MAX" yaml:"max_size" toml:"max_size"`
	AcquireTimeout  Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" yaml:"acquire_timeout" toml:"acquire_timeout"`
	MaxAge          Duration `envconfig:"POOL_MAX_AGE" yaml:"max_age" toml:"max_age"`
	CleanupInterval Duration `envconfig:"POOL_CLEANUP_INTERVAL" yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// BridgeConfig holds network bridge configuration.
type BridgeConfig struct {
	Timeout      Duration `envconfig:"BRIDGE_TIMEOUT" yaml:"timeout" toml:"timeout"`
	MaxBodyBytes int64    `envconfig:"BRIDGE_MAX_BODY_BYTES" yaml:"max_body_bytes" toml:"max_body_bytes"`
	RetryCount   int      `envconfig:"BRIDGE_RETRY_COUNT" yaml:"retry_count" toml:"retry_count"`
	RateLimit    float64  `envconfig:"BRIDGE_RATE_LIMIT" yaml:"rate_limit" toml:"rate_limit"`
	UserAgent    string   `envconfig:"BRIDGE_USER_AGENT" yaml:"user_agent" toml:"user_agent"`
	Proxy        string   `envconfig:"BRIDGE_PROXY" yaml:"proxy" toml:"proxy"`
	AllowedHosts []string `envconfig:"BRIDGE_ALLOWED_HOSTS" yaml:"allowed_hosts" toml:"allowed_hosts"`
}

// Duration is a time.Duration that decodes from Go duration strings.
type Duration time.Duration

// UnmarshalText parses values such as "30s" or "15m".
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML or TOML file on the defaults, then applies
// environment variables, which win over file values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations the sandbox cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}
	if c.Sandbox.Grace < 0 {
		errs = append(errs, errors.New("sandbox.grace must not be negative"))
	}
	if c.Sandbox.Workers <= 0 {
		errs = append(errs, errors.New("sandbox.workers must be positive"))
	}
	if c.Pool.MaxSize <= 0 {
		errs = append(errs, errors.New("pool.max_size must be positive"))
	}
	if c.Pool.Warm < 0 || c.Pool.Warm > c.Pool.MaxSize {
		errs = append(errs, fmt.Errorf("pool.warm must be between 0 and max_size (%d)", c.Pool.MaxSize))
	}
	if c.Bridge.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("bridge.max_body_bytes must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			Timeout:        Duration(30 * time.Second),
			Grace:          Duration(2 * time.Second),
			Workers:        16,
			QueueSize:      256,
			MaxSourceBytes: 128 << 10,
			MaxLogEntries:  1000,
		},
		Pool: PoolConfig{
			Warm:            4,
			MaxSize:         10,
			AcquireTimeout:  Duration(30 * time.Second),
			MaxAge:          Duration(15 * time.Minute),
			CleanupInterval: Duration(60 * time.Second),
		},
		Bridge: BridgeConfig{
			Timeout:      Duration(30 * time.Second),
			MaxBodyBytes: 10 << 20,
			RetryCount:   0,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
	}
}

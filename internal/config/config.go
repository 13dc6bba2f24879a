// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	site "github.com/eugener/mason/internal"
	"github.com/eugener/mason/internal/cache"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Log        LogConfig       `yaml:"log"`
	Auth       AuthConfig      `yaml:"auth"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Cache      CacheConfig     `yaml:"cache"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Keys       []KeyEntry      `yaml:"keys"`
	Seed       SeedConfig      `yaml:"seed"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel parses Level. Validate guarantees it succeeds.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// RateLimitConfig holds public endpoint rate limits.
type RateLimitConfig struct {
	ContactRPM int64 `yaml:"contact_rpm"` // contact form submissions per minute per client (0 = unlimited)
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL           time.Duration             `yaml:"ttl"`
	SweepInterval time.Duration             `yaml:"sweep_interval"`
	Namespaces    map[string]NamespaceEntry `yaml:"namespaces"`
}

// NamespaceEntry overrides cache settings for one namespace.
type NamespaceEntry struct {
	TTL time.Duration `yaml:"ttl"`
}

// ServiceConfig converts the YAML form into the cache package's Config.
func (c CacheConfig) ServiceConfig() cache.Config {
	out := cache.Config{TTL: c.TTL}
	if len(c.Namespaces) > 0 {
		out.NamespaceTTL = make(map[string]time.Duration, len(c.Namespaces))
		for ns, e := range c.Namespaces {
			out.NamespaceTTL[ns] = e.TTL
		}
	}
	return out
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"` // bootstrap admin key (hashed on first run)
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"` // plaintext, hashed on bootstrap
	Role string `yaml:"role"`
}

// SeedConfig holds content created on first run.
type SeedConfig struct {
	About *AboutEntry `yaml:"about"`
}

// AboutEntry is the initial about page.
type AboutEntry struct {
	Headline          string   `yaml:"headline"`
	Body              string   `yaml:"body"`
	YearsInBusiness   int      `yaml:"years_in_business"`
	ProjectsCompleted int      `yaml:"projects_completed"`
	Values            []string `yaml:"values"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "mason.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimits: RateLimitConfig{
			ContactRPM: 5,
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{SampleRate: 1.0},
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q: must be debug, info, warn or error", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: must be text or json", c.Log.Format))
	}

	if c.RateLimits.ContactRPM < 0 {
		errs = append(errs, fmt.Errorf("rate_limits.contact_rpm %d: must not be negative", c.RateLimits.ContactRPM))
	}

	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s: must be positive", c.Cache.TTL))
	}
	if c.Cache.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache.sweep_interval %s: must be positive", c.Cache.SweepInterval))
	}
	for ns, e := range c.Cache.Namespaces {
		if err := cache.ValidateNamespace(ns); err != nil {
			errs = append(errs, fmt.Errorf("cache.namespaces %q: %w", ns, err))
		}
		if e.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.namespaces.%s.ttl %s: must be positive", ns, e.TTL))
		}
	}

	if tr := c.Telemetry.Tracing; tr.Enabled && tr.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint is required when tracing is enabled"))
	}

	for i, k := range c.Keys {
		if k.Role != "" && !site.ValidRole(k.Role) {
			errs = append(errs, fmt.Errorf("keys[%d] role %q: unknown role", i, k.Role))
		}
	}
	return errors.Join(errs...)
}

// Package config loads gateway configuration.
//
// DESIGN: Configuration is layered:
//  1. Default() - compiled-in defaults from defaults.go
//  2. Optional YAML file, with ${VAR} / ${VAR:-default} expansion
//  3. Environment variables (always win)
//
// Validate() is called once after all layers are applied.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Session   SessionConfig   `yaml:"session"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the listening HTTP server.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
}

// UpstreamConfig describes the completion service the gateway proxies to.
type UpstreamConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	SummaryModel   string        `yaml:"summary_model"`
	SummaryTimeout time.Duration `yaml:"summary_timeout"`
}

// RateLimitConfig configures the per-client fixed window limiter.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
	// TrustForwardedFor keys clients by the first X-Forwarded-For hop.
	// Only safe behind a reverse proxy that overwrites the header.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// CORSConfig holds the browser origin allowlist.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionConfig controls bearer token lifetime.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"`
	URL              string        `yaml:"url"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
	HistoryLimit     int           `yaml:"history_limit"`
	SavedScriptLimit int           `yaml:"saved_script_limit"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Default returns a config populated with compiled-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultServerWriteTimeout,
			ShutdownGrace:     DefaultShutdownGrace,
		},
		Upstream: UpstreamConfig{
			URL:            DefaultUpstreamURL,
			Model:          DefaultModel,
			Timeout:        DefaultUpstreamTimeout,
			SummaryTimeout: DefaultSummaryTimeout,
		},
		RateLimit: RateLimitConfig{
			Window:            DefaultRateWindow,
			Max:               DefaultRateMax,
			TrustForwardedFor: true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{DefaultAllowedOrigin},
		},
		Session: SessionConfig{
			TTL:           DefaultSessionTTL,
			SweepInterval: DefaultSessionSweep,
		},
		Database: DatabaseConfig{
			Driver:           DefaultDBDriver,
			URL:              DefaultDatabaseURL,
			MaxOpenConns:     DefaultMaxOpenConns,
			MaxIdleConns:     DefaultMaxIdleConns,
			ConnMaxLifetime:  DefaultConnMaxLifetime,
			HistoryLimit:     DefaultHistoryLimit,
			SavedScriptLimit: DefaultSavedScriptLimit,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from an optional YAML file and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- operator supplied config path
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := cfg.parseYAML(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseYAML(data []byte) error {
	expanded := ExpandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// applyEnv overlays recognised environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		c.Server.Port = port
	}

	if v, ok := get("UPSTREAM_URL"); ok {
		c.Upstream.URL = v
	}
	if v, ok := get("LONGCAT_API_KEY"); ok {
		c.Upstream.APIKey = v
	}
	if v, ok := get("UPSTREAM_API_KEY"); ok {
		c.Upstream.APIKey = v
	}
	if v, ok := get("UPSTREAM_MODEL"); ok {
		c.Upstream.Model = v
	}
	if v, ok := get("SUMMARY_MODEL"); ok {
		c.Upstream.SummaryModel = v
	}
	if v, ok := get("UPSTREAM_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("UPSTREAM_TIMEOUT: %w", err)
		}
		c.Upstream.Timeout = d
	}

	if v, ok := get("RATE_LIMIT_WINDOW_MS"); ok {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW_MS must be an integer, got %q", v)
		}
		c.RateLimit.Window = time.Duration(ms) * time.Millisecond
	}
	if v, ok := get("RATE_LIMIT_MAX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_MAX must be an integer, got %q", v)
		}
		c.RateLimit.Max = n
	}
	if v, ok := get("TRUST_FORWARDED_FOR"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRUST_FORWARDED_FOR: %w", err)
		}
		c.RateLimit.TrustForwardedFor = b
	}

	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.CORS.AllowedOrigins = SplitList(v)
	}

	if v, ok := get("DB_DRIVER"); ok {
		c.Database.Driver = strings.ToLower(v)
	}
	if v, ok := get("DATABASE_URL"); ok {
		c.Database.URL = v
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0, got %s", c.Upstream.Timeout)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be > 0, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.max must be > 0, got %d", c.RateLimit.Max)
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins must not be empty")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0, got %s", c.Session.TTL)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be one of sqlite, mysql, postgres, got %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	return nil
}

// SummaryModelOrDefault returns the model used for memory condensation.
func (c *Config) SummaryModelOrDefault() string {
	if c.Upstream.SummaryModel != "" {
		return c.Upstream.SummaryModel
	}
	return c.Upstream.Model
}

// SplitList splits a comma separated list, trimming blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefPattern.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[3]
	})
}

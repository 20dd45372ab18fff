// Package daemon holds process-level configuration for taskyield.
package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/taskyield/taskyield/internal/domain"
	"github.com/taskyield/taskyield/internal/infra/logging"
)

// Config is the full taskyield configuration, read from
// $TASKYIELD_HOME/config.toml and overridden by environment variables.
type Config struct {
	API        APIConfig             `toml:"api"`
	Database   DatabaseConfig        `toml:"database"`
	Engine     EngineConfig          `toml:"engine"`
	Redis      RedisConfig           `toml:"redis"`
	Log        logging.Config        `toml:"log"`
	Tracing    TracingConfig         `toml:"tracing"`
	Commission domain.CommissionPlan `toml:"commission"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig locates the SQLite file. An empty Dir means the home dir.
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// EngineConfig controls evaluation passes.
type EngineConfig struct {
	Schedule      string `toml:"schedule"`       // cron spec, "" disables the schedule
	MaxConcurrent int    `toml:"max_concurrent"` // users evaluated in parallel
	UserTimeout   string `toml:"user_timeout"`   // per-user budget, e.g. "30s"
	LockBackend   string `toml:"lock_backend"`   // "local" or "redis"
}

// RedisConfig configures the shared lock backend.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
	LockTTL  string `toml:"lock_ttl"`
}

// TracingConfig controls the in-memory span buffer.
type TracingConfig struct {
	Enabled  bool `toml:"enabled"`
	MaxSpans int  `toml:"max_spans"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8420,
			Metrics: true,
		},
		Engine: EngineConfig{
			Schedule:      "@daily",
			MaxConcurrent: 4,
			UserTimeout:   "30s",
			LockBackend:   "local",
		},
		Redis: RedisConfig{
			Addr:    "127.0.0.1:6379",
			Prefix:  "taskyield:lock:",
			LockTTL: "30s",
		},
		Log: logging.Config{
			Production: false,
			Level:      "info",
		},
		Tracing: TracingConfig{
			Enabled:  true,
			MaxSpans: 1000,
		},
		Commission: domain.DefaultCommissionPlan(),
	}
}

// Home returns the taskyield home directory.
func Home() string {
	if env := os.Getenv("TASKYIELD_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskyield"
	}
	return filepath.Join(home, ".taskyield")
}

// DataDir returns where the database lives.
func (c Config) DataDir() string {
	if c.Database.Dir != "" {
		return c.Database.Dir
	}
	return Home()
}

// Load reads .env files, the home config file and environment overrides.
// A missing config file is not an error.
func Load() (Config, error) {
	home := Home()
	for _, f := range []string{".env", filepath.Join(home, ".env")} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return LoadFile(filepath.Join(home, "config.toml"))
}

// LoadFile reads one config file over the defaults, then applies
// environment overrides.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TASKYIELD_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASKYIELD_API_PORT: %w", err)
		}
		c.API.Port = port
	}
	if v := os.Getenv("TASKYIELD_DB_DIR"); v != "" {
		c.Database.Dir = v
	}
	if v := os.Getenv("TASKYIELD_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Engine.LockBackend = "redis"
	}
	if v := os.Getenv("TASKYIELD_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("TASKYIELD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("TASKYIELD_SCHEDULE"); v != "" {
		c.Engine.Schedule = v
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Engine.Schedule != "" {
		if _, err := cron.ParseStandard(c.Engine.Schedule); err != nil {
			return fmt.Errorf("engine.schedule %q: %w", c.Engine.Schedule, err)
		}
	}
	if _, err := time.ParseDuration(c.Engine.UserTimeout); err != nil {
		return fmt.Errorf("engine.user_timeout: %w", err)
	}
	switch c.Engine.LockBackend {
	case "local":
	case "redis":
		if _, err := time.ParseDuration(c.Redis.LockTTL); err != nil {
			return fmt.Errorf("redis.lock_ttl: %w", err)
		}
	default:
		return fmt.Errorf("engine.lock_backend %q: want local or redis", c.Engine.LockBackend)
	}
	for i, r := range c.Commission.TeamRates {
		if r.IsNegative() {
			return fmt.Errorf("commission.team_rates[%d] must not be negative", i)
		}
	}
	if c.Commission.UplineRate.IsNegative() {
		return fmt.Errorf("commission.upline_rate must not be negative")
	}
	return nil
}

// UserTimeout returns the parsed engine per-user budget.
func (c Config) UserTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Engine.UserTimeout)
	return d
}

// LockTTL returns the parsed Redis lease.
func (c Config) LockTTL() time.Duration {
	d, _ := time.ParseDuration(c.Redis.LockTTL)
	return d
}

// Write encodes the configuration as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

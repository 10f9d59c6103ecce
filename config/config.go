// Package config loads parkwatch settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxConfigFileSize = 1024 * 1024

// Defaults
const (
	DefaultPort              = "3001"
	DefaultDatabaseDriver    = "postgres"
	DefaultSQLitePath        = "parkwatch.db"
	DefaultDetectorURL       = "http://localhost:5000"
	DefaultDetectorTimeout   = 30 * time.Second
	DefaultSnapshotInterval  = 10 * time.Minute
	DefaultRetentionDays     = 90
	DefaultRetentionInterval = 24 * time.Hour
	DefaultStatusCacheTTL    = 5 * time.Second
	DefaultNATSPort          = 4233
	DefaultTimezone          = "Local"
)

// Config is the full service configuration
type Config struct {
	Port      string          `koanf:"port"`
	Env       string          `koanf:"env"`
	Database  DatabaseConfig  `koanf:"database"`
	Detector  DetectorConfig  `koanf:"detector"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	Retention RetentionConfig `koanf:"retention"`
	Status    StatusConfig    `koanf:"status"`
	NATS      NATSConfig      `koanf:"nats"`
	Log       LogConfig       `koanf:"log"`
	App       AppConfig       `koanf:"app"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	URL    string `koanf:"url"`
}

type DetectorConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type SnapshotConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// RetentionConfig controls the pruner. Days of 0 disables pruning.
type RetentionConfig struct {
	Days     *int          `koanf:"days"`
	Interval time.Duration `koanf:"interval"`
}

type StatusConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type NATSConfig struct {
	Port int `koanf:"port"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type AppConfig struct {
	Timezone string `koanf:"timezone"`
}

// envKeys are the environment variables read into the config; everything
// else in the environment is ignored.
var envKeys = map[string]bool{
	"PORT":               true,
	"ENV":                true,
	"DATABASE_DRIVER":    true,
	"DATABASE_URL":       true,
	"DETECTOR_URL":       true,
	"DETECTOR_TIMEOUT":   true,
	"SNAPSHOT_INTERVAL":  true,
	"RETENTION_DAYS":     true,
	"RETENTION_INTERVAL": true,
	"STATUS_CACHE_TTL":   true,
	"NATS_PORT":          true,
	"LOG_LEVEL":          true,
	"APP_TIMEZONE":       true,
}

// envKey maps DATABASE_URL to database.url and STATUS_CACHE_TTL to
// status.cache_ttl: the first underscore separates the section. Empty values
// are skipped so they fall through to the defaults.
func envKey(s, value string) (string, interface{}) {
	if !envKeys[s] || strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envPath(s), value
}

func envPath(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Load reads .env (if present), then the YAML file at path (if path is not
// empty), then the environment. Later sources win.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDatabaseDriver
	}
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	if cfg.Database.URL == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.URL = DefaultSQLitePath
	}
	if cfg.Detector.URL == "" {
		cfg.Detector.URL = DefaultDetectorURL
	}
	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = DefaultDetectorTimeout
	}
	if cfg.Snapshot.Interval == 0 {
		cfg.Snapshot.Interval = DefaultSnapshotInterval
	}
	if cfg.Retention.Days == nil {
		days := DefaultRetentionDays
		cfg.Retention.Days = &days
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = DefaultRetentionInterval
	}
	if cfg.Status.CacheTTL == 0 {
		cfg.Status.CacheTTL = DefaultStatusCacheTTL
	}
	if cfg.NATS.Port == 0 {
		cfg.NATS.Port = DefaultNATSPort
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.App.Timezone == "" {
		cfg.App.Timezone = DefaultTimezone
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Detector.Timeout < 0 {
		errs = append(errs, errors.New("detector timeout must be positive"))
	}
	if c.Snapshot.Interval < 0 {
		errs = append(errs, errors.New("snapshot interval must be positive"))
	}
	if c.Retention.Days != nil && *c.Retention.Days < 0 {
		errs = append(errs, errors.New("retention days must not be negative"))
	}
	if c.Retention.Interval < 0 {
		errs = append(errs, errors.New("retention interval must be positive"))
	}
	if c.NATS.Port < -1 || c.NATS.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid NATS port %d", c.NATS.Port))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Log.Level))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.App.Timezone, err))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV=production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RetentionDays is the configured retention window; 0 disables pruning
func (c *Config) RetentionDays() int {
	if c.Retention.Days == nil {
		return DefaultRetentionDays
	}
	return *c.Retention.Days
}

// Location is the zone used for snapshot hour/day metadata
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.App.Timezone)
}

// NewLogger builds a JSON production logger when ENV=production and a console
// development logger otherwise.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	var zc zap.Config
	if c.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

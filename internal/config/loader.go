package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the variable that points at an optional YAML config file.
const EnvConfigFile = "SCHEDULER_CONFIG_FILE"

const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Config captures the settings shared by the API server and the sweeper.
type Config struct {
	HTTPPort                int           `yaml:"http_port"`
	Storage                 string        `yaml:"storage"`
	SQLiteDSN               string        `yaml:"sqlite_dsn"`
	Timezone                string        `yaml:"timezone"`
	OfferTTL                time.Duration `yaml:"offer_ttl"`
	MaxBulkItems            int           `yaml:"max_bulk_items"`
	MaxOccurrences          int           `yaml:"max_occurrences"`
	PendingBlocks           bool          `yaml:"pending_blocks"`
	WaitlistLeaveIdempotent bool          `yaml:"waitlist_leave_idempotent"`
	SweepInterval           time.Duration `yaml:"sweep_interval"`
	LogLevel                string        `yaml:"log_level"`

	// Location is resolved from Timezone.
	Location *time.Location `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPPort:       8080,
		Storage:        StorageSQLite,
		SQLiteDSN:      "scheduler.db",
		Timezone:       "UTC",
		OfferTTL:       30 * time.Minute,
		MaxBulkItems:   100,
		MaxOccurrences: 366,
		SweepInterval:  time.Minute,
		LogLevel:       "info",
		Location:       time.UTC,
	}
}

// Load reads the file named by SCHEDULER_CONFIG_FILE, if any, and then the environment.
func Load() (Config, error) {
	return LoadFile(strings.TrimSpace(os.Getenv(EnvConfigFile)))
}

// LoadFile applies defaults, then the YAML file at path (skipped when empty), then
// SCHEDULER_* environment variables. Every invalid key is reported in one error.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	invalid := cfg.applyEnv()
	invalid = append(invalid, cfg.validate()...)
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(dedupe(invalid), ", "))
	}

	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() []string {
	var invalid []string

	setInt := func(key string, target *int) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*target = n
		}
	}
	setDuration := func(key string, target *time.Duration) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*target = d
		}
	}
	setBool := func(key string, target *bool) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			b, err := strconv.ParseBool(value)
			if err != nil {
				invalid = append(invalid, key)
				return
			}
			*target = b
		}
	}
	setString := func(key string, target *string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*target = value
		}
	}

	setInt("SCHEDULER_HTTP_PORT", &c.HTTPPort)
	setString("SCHEDULER_STORAGE", &c.Storage)
	setString("SCHEDULER_SQLITE_DSN", &c.SQLiteDSN)
	setString("SCHEDULER_TIMEZONE", &c.Timezone)
	setDuration("SCHEDULER_OFFER_TTL", &c.OfferTTL)
	setInt("SCHEDULER_MAX_BULK_ITEMS", &c.MaxBulkItems)
	setInt("SCHEDULER_MAX_OCCURRENCES", &c.MaxOccurrences)
	setBool("SCHEDULER_PENDING_BLOCKS", &c.PendingBlocks)
	setBool("SCHEDULER_WAITLIST_LEAVE_IDEMPOTENT", &c.WaitlistLeaveIdempotent)
	setDuration("SCHEDULER_SWEEP_INTERVAL", &c.SweepInterval)
	setString("SCHEDULER_LOG_LEVEL", &c.LogLevel)

	return invalid
}

func (c *Config) validate() []string {
	var invalid []string

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		invalid = append(invalid, "SCHEDULER_HTTP_PORT")
	}
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage != StorageSQLite && c.Storage != StorageMemory {
		invalid = append(invalid, "SCHEDULER_STORAGE")
	}
	if c.Storage == StorageSQLite && strings.TrimSpace(c.SQLiteDSN) == "" {
		invalid = append(invalid, "SCHEDULER_SQLITE_DSN")
	}
	if loc, err := time.LoadLocation(c.Timezone); err != nil {
		invalid = append(invalid, "SCHEDULER_TIMEZONE")
	} else {
		c.Location = loc
	}
	if c.OfferTTL <= 0 {
		invalid = append(invalid, "SCHEDULER_OFFER_TTL")
	}
	if c.MaxBulkItems <= 0 {
		invalid = append(invalid, "SCHEDULER_MAX_BULK_ITEMS")
	}
	if c.MaxOccurrences <= 0 {
		invalid = append(invalid, "SCHEDULER_MAX_OCCURRENCES")
	}
	if c.SweepInterval <= 0 {
		invalid = append(invalid, "SCHEDULER_SWEEP_INTERVAL")
	}
	if _, err := c.SlogLevel(); err != nil {
		invalid = append(invalid, "SCHEDULER_LOG_LEVEL")
	}
	return invalid
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"shiftmonitor/internal/models"
)

// EnvPrefix is the prefix for environment overrides, e.g. SHIFTMONITOR_STORE_DRIVER.
const EnvPrefix = "SHIFTMONITOR"

// Config represents configuration data for the monitoring service.
type Config struct {
	Addr                   string           `yaml:"addr"`
	DataDirectory          string           `yaml:"data_directory"`
	Timezone               string           `yaml:"timezone"`
	LogLevel               string           `yaml:"log_level"`
	PollIntervalSeconds    int              `yaml:"poll_interval_seconds"`
	Store                  StoreConfig      `yaml:"store"`
	Timeline               TimelineConfig   `yaml:"timeline"`
	Machines               []models.Machine `yaml:"machines"`
	DefaultShiftLabel      string           `yaml:"default_shift_label"`
	StatusRequestTimeoutMs int              `yaml:"status_request_timeout_ms"`
}

// StoreConfig selects the key-value backend for timelines.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	TimeoutMillis int    `yaml:"timeout_ms"`
}

// TimelineConfig tunes the recorder timers and retention.
type TimelineConfig struct {
	PersistThrottleSeconds int `yaml:"persist_throttle_seconds"`
	TickSeconds            int `yaml:"tick_seconds"`
	FlushSeconds           int `yaml:"flush_seconds"`
	RetentionHours         int `yaml:"retention_hours"`
}

// envOverrides lists the settings that can be replaced from the environment.
type envOverrides struct {
	Addr          string `envconfig:"ADDR"`
	DataDirectory string `envconfig:"DATA_DIRECTORY"`
	Timezone      string `envconfig:"TIMEZONE"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	StoreDriver   string `envconfig:"STORE_DRIVER"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	StoreTimeout  int    `envconfig:"STORE_TIMEOUT_MS"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		Addr:                   ":8080",
		DataDirectory:          filepath.Join(".dist", "data"),
		Timezone:               "Local",
		LogLevel:               "info",
		PollIntervalSeconds:    15,
		DefaultShiftLabel:      "",
		StatusRequestTimeoutMs: 5000,
		Store: StoreConfig{
			Driver:        "file",
			TimeoutMillis: 2000,
		},
		Timeline: TimelineConfig{
			PersistThrottleSeconds: 5,
			TickSeconds:            1,
			FlushSeconds:           60,
			RetentionHours:         9,
		},
		Machines: []models.Machine{
			{
				ID:   "example",
				Name: "Example Machine",
			},
		},
	}
}

// Load reads configuration from a yaml file, then applies environment
// overrides. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	env.apply(&cfg)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (e envOverrides) apply(cfg *Config) {
	if e.Addr != "" {
		cfg.Addr = e.Addr
	}
	if e.DataDirectory != "" {
		cfg.DataDirectory = e.DataDirectory
	}
	if e.Timezone != "" {
		cfg.Timezone = e.Timezone
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.StoreDriver != "" {
		cfg.Store.Driver = e.StoreDriver
	}
	if e.PostgresDSN != "" {
		cfg.Store.PostgresDSN = e.PostgresDSN
	}
	if e.StoreTimeout > 0 {
		cfg.Store.TimeoutMillis = e.StoreTimeout
	}
}

func (c *Config) normalize() error {
	defaults := DefaultConfig()
	if c.Addr == "" {
		c.Addr = defaults.Addr
	}
	if c.DataDirectory == "" {
		c.DataDirectory = defaults.DataDirectory
	}
	if c.Timezone == "" {
		c.Timezone = defaults.Timezone
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = defaults.PollIntervalSeconds
	}
	if c.StatusRequestTimeoutMs <= 0 {
		c.StatusRequestTimeoutMs = defaults.StatusRequestTimeoutMs
	}
	if c.Store.Driver == "" {
		c.Store.Driver = defaults.Store.Driver
	}
	switch c.Store.Driver {
	case "file", "sqlite", "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store driver postgres requires store.postgres_dsn")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Timeline.PersistThrottleSeconds <= 0 {
		c.Timeline.PersistThrottleSeconds = defaults.Timeline.PersistThrottleSeconds
	}
	if c.Timeline.TickSeconds <= 0 {
		c.Timeline.TickSeconds = defaults.Timeline.TickSeconds
	}
	if c.Timeline.FlushSeconds <= 0 {
		c.Timeline.FlushSeconds = defaults.Timeline.FlushSeconds
	}
	if c.Timeline.RetentionHours <= 0 {
		c.Timeline.RetentionHours = defaults.Timeline.RetentionHours
	}

	if len(c.Machines) == 0 {
		return errors.New("configuration must define at least one machine")
	}
	seen := make(map[string]struct{}, len(c.Machines))
	for i := range c.Machines {
		m := &c.Machines[i]
		if m.ID == "" {
			return fmt.Errorf("machine %d is missing id", i)
		}
		if strings.ContainsAny(m.ID, ": \t\r\n") {
			return fmt.Errorf("machine id %q must not contain ':' or whitespace", m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("machine %s is defined twice", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.StatusField == "" {
			m.StatusField = "status"
		}
		if m.ColorField == "" {
			m.ColorField = "color"
		}
		if m.PollIntervalSeconds <= 0 {
			m.PollIntervalSeconds = c.PollIntervalSeconds
		}
		if m.ShiftLabel == "" {
			m.ShiftLabel = c.DefaultShiftLabel
		}
	}
	return nil
}

// Location returns the configured timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Machine looks up a configured machine by id.
func (c Config) Machine(id string) (models.Machine, bool) {
	for _, m := range c.Machines {
		if m.ID == id {
			return m, true
		}
	}
	return models.Machine{}, false
}

// StoreTimeout bounds individual key-value operations.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutMillis) * time.Millisecond
}

// Package config loads the engine configuration once at startup. Missing
// required settings are fatal here; nothing re-reads the file later.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Relay     RelayConfig     `yaml:"relay"`
	Directory DirectoryConfig `yaml:"directory"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Database  DatabaseConfig  `yaml:"database"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RelayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type DirectoryConfig struct {
	// Service is the well-known directory address discovery queries go
	// to.
	Service string `yaml:"service"`
	// Notify is the notification-service address; defaults to
	// "notify." + Service.
	Notify string `yaml:"notify"`
}

type ArchiveConfig struct {
	// HistoryLimit is the result-count limit for history queries,
	// clamped to 10..200.
	HistoryLimit int `yaml:"history_limit"`
	// ProbeLimit is the result-count limit for recency probes, clamped
	// to 1..5.
	ProbeLimit int `yaml:"probe_limit"`
	// HistoryWorkers caps concurrent history queries, clamped to 1..4.
	HistoryWorkers int `yaml:"history_workers"`
	// ProbeWorkers caps concurrent recency probes, clamped to 1..4.
	ProbeWorkers int `yaml:"probe_workers"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AlertsConfig struct {
	// Topic enables push alerts: an ntfy topic name or a full endpoint
	// URL. Empty disables alerts.
	Topic string `yaml:"topic"`
	// Token is the optional bearer token for reserved topics.
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables if present
	if token := os.Getenv("SWITCHBOARD_TOKEN"); token != "" {
		cfg.Relay.Token = token
	}
	if url := os.Getenv("SWITCHBOARD_RELAY_URL"); url != "" {
		cfg.Relay.URL = url
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Directory.Notify == "" && c.Directory.Service != "" {
		c.Directory.Notify = "notify." + c.Directory.Service
	}
	if c.Database.Path == "" {
		c.Database.Path = "switchboard.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Archive.HistoryLimit = clamp(c.Archive.HistoryLimit, 50, 10, 200)
	c.Archive.ProbeLimit = clamp(c.Archive.ProbeLimit, 1, 1, 5)
	c.Archive.HistoryWorkers = clamp(c.Archive.HistoryWorkers, 1, 1, 4)
	c.Archive.ProbeWorkers = clamp(c.Archive.ProbeWorkers, 1, 1, 4)
}

// clamp folds v into [lo, hi], taking def when v is unset (zero).
func clamp(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Directory.Service == "" {
		return fmt.Errorf("directory.service is required")
	}
	return nil
}

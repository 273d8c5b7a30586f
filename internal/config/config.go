package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Extract  ExtractConfig  `yaml:"extract"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the tracking cycle cadence.
type ScheduleConfig struct {
	CycleInterval string `yaml:"cycle_interval"`
	RecheckWindow string `yaml:"recheck_window"`
}

// ParseCycleInterval returns the cycle interval as time.Duration.
func (s ScheduleConfig) ParseCycleInterval() time.Duration {
	d, err := time.ParseDuration(s.CycleInterval)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ParseRecheckWindow returns the per-product recheck throttle as time.Duration.
func (s ScheduleConfig) ParseRecheckWindow() time.Duration {
	d, err := time.ParseDuration(s.RecheckWindow)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// FetchConfig configures the page fetcher.
type FetchConfig struct {
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// ParseTimeout returns the per-request fetch timeout as time.Duration.
func (f FetchConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ExtractConfig configures price extraction from product pages.
type ExtractConfig struct {
	Selector string `yaml:"selector"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./pricewatch.db"},
		Schedule: ScheduleConfig{
			CycleInterval: "30m",
			RecheckWindow: "10m",
		},
		Fetch: FetchConfig{
			Timeout:   "10s",
			UserAgent: "Mozilla/5.0",
		},
		Extract: ExtractConfig{Selector: "span.a-offscreen"},
		Alerts:  AlertsConfig{},
		Server:  ServerConfig{Port: 8080},
		Log:     LogConfig{Mode: "dev"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRICEWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRICEWATCH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRICEWATCH_CYCLE_INTERVAL"); v != "" {
		cfg.Schedule.CycleInterval = v
	}
	if v := os.Getenv("PRICEWATCH_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Webhook.URL = v
		cfg.Alerts.Webhook.Enabled = true
	}
	if v := os.Getenv("PRICEWATCH_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Webhook.Secret = v
	}
	if v := os.Getenv("PRICEWATCH_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
}

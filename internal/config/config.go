package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models skywatch.yml.
type Config struct {
	Feeds struct {
		Launches  FeedConfig `yaml:"launches"`
		SkyEvents FeedConfig `yaml:"sky_events"`
		Solar     FeedConfig `yaml:"solar"`
	} `yaml:"feeds"`
	Alerts struct {
		SolarHighPct int      `yaml:"solar_high_pct"`
		MinSeverity  string   `yaml:"min_severity"`
		MutedTypes   []string `yaml:"muted_types"`
	} `yaml:"alerts"`
	Missions struct {
		DefaultTimeLimitSec  int `yaml:"default_time_limit_sec"`
		SkyEventTimeLimitSec int `yaml:"sky_event_time_limit_sec"`
		SolarTimeLimitSec    int `yaml:"solar_time_limit_sec"`
	} `yaml:"missions"`
	Refresh struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"refresh"`
	Server struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

type FeedConfig struct {
	URL string   `yaml:"url"`
	TTL Duration `yaml:"ttl"`
}

// Duration wraps time.Duration so YAML values like "30m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with sw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for name, feed := range map[string]FeedConfig{
		"feeds.launches":   c.Feeds.Launches,
		"feeds.sky_events": c.Feeds.SkyEvents,
		"feeds.solar":      c.Feeds.Solar,
	} {
		if feed.URL == "" {
			return fmt.Errorf("config.%s.url is required", name)
		}
		if feed.TTL <= 0 {
			return fmt.Errorf("config.%s.ttl must be positive", name)
		}
	}
	if c.Alerts.SolarHighPct < 0 || c.Alerts.SolarHighPct > 100 {
		return fmt.Errorf("config.alerts.solar_high_pct must be 0-100")
	}
	switch c.Alerts.MinSeverity {
	case "", "info", "medium", "high":
	default:
		return fmt.Errorf("config.alerts.min_severity must be info, medium or high")
	}
	for _, t := range c.Alerts.MutedTypes {
		switch t {
		case "launch", "sky-event", "solar":
		default:
			return fmt.Errorf("config.alerts.muted_types contains unknown type %s", t)
		}
	}
	if c.Missions.DefaultTimeLimitSec <= 0 {
		return fmt.Errorf("config.missions.default_time_limit_sec must be positive")
	}
	if c.Missions.SkyEventTimeLimitSec <= 0 {
		return fmt.Errorf("config.missions.sky_event_time_limit_sec must be positive")
	}
	if c.Missions.SolarTimeLimitSec <= 0 {
		return fmt.Errorf("config.missions.solar_time_limit_sec must be positive")
	}
	if c.Refresh.Enabled && c.Refresh.Schedule == "" {
		return fmt.Errorf("config.refresh.schedule is required when refresh is enabled")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "skywatch.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `feeds:
  launches:
    url: https://ll.thespacedevs.com/2.2.0/launch/upcoming/
    ttl: 30m
  sky_events:
    url: https://api.skywatch.example/v1/events/upcoming
    ttl: 6h
  solar:
    url: https://services.swpc.noaa.gov/json/solar_summary.json
    ttl: 15m

alerts:
  # Solar summaries at or above this severity percentage raise a high alert.
  solar_high_pct: 60
  min_severity: info
  muted_types: []

missions:
  default_time_limit_sec: 900
  sky_event_time_limit_sec: 1800
  solar_time_limit_sec: 1200

refresh:
  enabled: false
  schedule: "@every 10m"

server:
  jwt_secret: ""
`

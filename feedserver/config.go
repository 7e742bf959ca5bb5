package feedserver

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the feed server settings.
type Config struct {
	DBPath string `yaml:"db_path"`
	Addr   string `yaml:"addr"`

	// CacheTTL bounds how long a rendered post stays cached. Default 5m.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// WatchInterval is how often the database version is checked for
	// writes from other processes. Default 1s.
	WatchInterval time.Duration `yaml:"watch_interval"`

	// Timezone and TimeFormat shape entry header times.
	Timezone   string `yaml:"timezone"`
	TimeFormat string `yaml:"time_format"`

	// EntryIDs picks the id scheme for new entries: "uuid" (default) or
	// "legacy" (lb-<base36 millis>-<random>).
	EntryIDs string `yaml:"entry_ids"`

	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`

	// Editor mounts the write routes; MCP mounts the MCP endpoint.
	Editor bool `yaml:"editor"`
	MCP    bool `yaml:"mcp"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "liveblog.db"
	}
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = time.Second
	}
	if c.EntryIDs == "" {
		c.EntryIDs = "uuid"
	}
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("feedserver: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LoadConfigFile reads a YAML server config and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("feedserver: parse %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}

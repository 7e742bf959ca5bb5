package liveview

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the reader tunables. Zero values take the defaults below.
type Config struct {
	DefaultInterval   time.Duration `yaml:"default_interval"`
	InactiveInterval  time.Duration `yaml:"inactive_interval"`
	MinBackoff        time.Duration `yaml:"min_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	ScrollThreshold   int           `yaml:"scroll_threshold"`
	BannerAutoDismiss time.Duration `yaml:"banner_auto_dismiss"`
	EnterAnimation    time.Duration `yaml:"enter_animation"`
	InitialPageSize   int           `yaml:"initial_page_size"`
	PageSize          int           `yaml:"page_size"`
	LoadMorePageSize  int           `yaml:"load_more_page_size"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	// Timezone renders entry times in fallback markup (IANA name). Default UTC.
	Timezone string `yaml:"timezone"`
}

func (c *Config) defaults() {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 10 * time.Second
	}
	if c.InactiveInterval <= 0 {
		c.InactiveInterval = 10 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 20 * time.Second
	}
	if c.ScrollThreshold <= 0 {
		c.ScrollThreshold = 200
	}
	if c.BannerAutoDismiss <= 0 {
		c.BannerAutoDismiss = 30 * time.Second
	}
	if c.EnterAnimation <= 0 {
		c.EnterAnimation = 300 * time.Millisecond
	}
	if c.InitialPageSize <= 0 {
		c.InitialPageSize = 5
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.LoadMorePageSize <= 0 {
		c.LoadMorePageSize = 5
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 20 * time.Second
	}
}

func (c *Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("liveview: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LoadConfigFile reads a YAML reader config and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("liveview: parse %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}

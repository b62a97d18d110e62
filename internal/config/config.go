// Package config holds the crawler settings, their defaults and the two file
// formats they can be loaded from.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrNoSeeds = errors.New("no seed URLs configured")

type Config struct {
	// Deduplication
	ExpectedLines uint64 `yaml:"expected_lines"`

	// Politeness
	FetchesPerDomain uint64        `yaml:"fetches_per_domain"`
	Cooldown         time.Duration `yaml:"cooldown"`

	// Concurrency
	ActiveDomains  int           `yaml:"active_domains"`
	MaxResolving   int           `yaml:"max_resolving"`
	ResolveRate    float64       `yaml:"resolve_rate"` // lookups per second, 0 = unlimited
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`

	// Limits
	MaxURLLength      int           `yaml:"max_url_length"`
	MaxResponseBytes  int64         `yaml:"max_response_bytes"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	FillThreshold     int           `yaml:"fill_threshold"` // parts per thousand

	// Event loop
	PumpPasses     int           `yaml:"pump_passes"`
	PumpSlice      time.Duration `yaml:"pump_slice"`
	ReportInterval time.Duration `yaml:"report_interval"`

	// Output
	OutputDir string `yaml:"output_dir"`
	Report    string `yaml:"report"` // .db/.sqlite or .xlsx, empty = none

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	Ignore []string `yaml:"ignore"`
	Fetch  []string `yaml:"fetch"`
}

func DefaultConfig() *Config {
	return &Config{
		ExpectedLines: 100000,

		FetchesPerDomain: 1000,
		Cooldown:         5 * time.Second,

		ActiveDomains:  1024,
		MaxResolving:   32,
		ResolveRate:    0,
		ResolveTimeout: 10 * time.Second,

		MaxURLLength:      256,
		MaxResponseBytes:  2000000,
		InactivityTimeout: 60 * time.Second,
		FillThreshold:     750,

		PumpPasses:     10,
		PumpSlice:      100 * time.Millisecond,
		ReportInterval: time.Second,

		OutputDir: "./data",

		LogLevel: "INFO",
		LogJSON:  false,
	}
}

func (c *Config) Validate() error {
	if len(c.Fetch) == 0 {
		return ErrNoSeeds
	}
	if c.ExpectedLines < 1 {
		return fmt.Errorf("expected_lines must be >= 1, got %d", c.ExpectedLines)
	}
	if c.ActiveDomains < 1 {
		return fmt.Errorf("active_domains must be >= 1, got %d", c.ActiveDomains)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %s", c.Cooldown)
	}
	if c.ResolveRate < 0 {
		return fmt.Errorf("resolve_rate must be >= 0, got %g", c.ResolveRate)
	}
	if c.FillThreshold < 1 || c.FillThreshold > 1000 {
		return fmt.Errorf("fill_threshold must be in [1, 1000], got %d", c.FillThreshold)
	}
	if c.MaxResolving < 1 {
		c.MaxResolving = 1
	}
	if c.MaxResolving > c.ActiveDomains {
		c.MaxResolving = c.ActiveDomains
	}
	if c.MaxURLLength < 1 {
		c.MaxURLLength = 256
	}
	if c.MaxResponseBytes < 1 {
		c.MaxResponseBytes = 2000000
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 60 * time.Second
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 10 * time.Second
	}
	if c.PumpPasses < 1 {
		c.PumpPasses = 1
	}
	if c.PumpSlice <= 0 {
		c.PumpSlice = 100 * time.Millisecond
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = time.Second
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}

	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.OutputDir, err)
	}
	return nil
}

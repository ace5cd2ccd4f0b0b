// CLAUDE:SUMMARY Parses the pinpoint YAML configuration (server, browser, capture, agent, projects) with defaults and validation.
// Package config handles pinpoint configuration from YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/capture"
	"github.com/hazyhaar/pinpoint/feedback"
	"github.com/hazyhaar/pinpoint/safe"
)

// Config is the top-level configuration shared by pinpointd and the agent.
type Config struct {
	Server   ServerConfig       `yaml:"server"`
	Browser  BrowserConfig      `yaml:"browser"`
	Capture  CaptureConfig      `yaml:"capture"`
	Agent    AgentConfig        `yaml:"agent"`
	Projects []feedback.Project `yaml:"projects"`
}

// ServerConfig controls the feedback service.
type ServerConfig struct {
	Addr     string          `yaml:"addr"`
	DBPath   string          `yaml:"db_path"`
	Dev      bool            `yaml:"dev"`
	LogLevel string          `yaml:"log_level"`
	CacheTTL time.Duration   `yaml:"cache_ttl"`
	Rate     RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds submissions per client IP.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// BrowserConfig controls Chrome lifecycle for the agent.
type BrowserConfig struct {
	Remote      string `yaml:"remote"`
	Bin         string `yaml:"bin"`
	Stealth     string `yaml:"stealth"` // headless | headful
	XvfbDisplay string `yaml:"xvfb_display"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
}

// CaptureConfig tunes the snapshot compositor.
type CaptureConfig struct {
	Budget         int           `yaml:"budget"`
	InitialQuality int           `yaml:"initial_quality"`
	MinQuality     int           `yaml:"min_quality"`
	QualityStep    int           `yaml:"quality_step"`
	MaxDimension   int           `yaml:"max_dimension"`
	Settle         time.Duration `yaml:"settle"`
}

// AgentConfig points the browser agent at a service.
type AgentConfig struct {
	ServiceURL   string        `yaml:"service_url"`
	APIKey       string        `yaml:"api_key"`
	SuccessDelay time.Duration `yaml:"success_delay"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "data/pinpoint.db"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.CacheTTL <= 0 {
		c.Server.CacheTTL = 30 * time.Second
	}
	if c.Server.Rate.PerSecond <= 0 {
		c.Server.Rate.PerSecond = 1
	}
	if c.Server.Rate.Burst <= 0 {
		c.Server.Rate.Burst = 10
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Width <= 0 {
		c.Browser.Width = 1280
	}
	if c.Browser.Height <= 0 {
		c.Browser.Height = 800
	}
	if c.Capture.Budget <= 0 {
		c.Capture.Budget = capture.DefaultBudget
	}
	if c.Capture.Settle <= 0 {
		c.Capture.Settle = 50 * time.Millisecond
	}
	if c.Agent.ServiceURL == "" {
		c.Agent.ServiceURL = "http://localhost:8080"
	}
	if c.Agent.SuccessDelay <= 0 {
		c.Agent.SuccessDelay = time.Second
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Capture.Budget > annotation.MaxScreenshotSize {
		return fmt.Errorf("config: capture.budget %d exceeds the service limit %d",
			c.Capture.Budget, annotation.MaxScreenshotSize)
	}
	if q := c.Capture; q.MinQuality > 0 && q.InitialQuality > 0 && q.MinQuality > q.InitialQuality {
		return fmt.Errorf("config: capture.min_quality %d above initial_quality %d", q.MinQuality, q.InitialQuality)
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	if err := safe.HTTPURL(c.Agent.ServiceURL); err != nil {
		return fmt.Errorf("config: agent.service_url: %w", err)
	}
	seen := make(map[string]bool, len(c.Projects))
	for i, p := range c.Projects {
		if err := safe.ValidateIdentifier(p.ID); err != nil {
			return fmt.Errorf("config: projects[%d].id: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate project id %q", p.ID)
		}
		seen[p.ID] = true
		if p.URL != "" {
			if err := safe.HTTPURL(p.URL); err != nil {
				return fmt.Errorf("config: projects[%d].url: %w", i, err)
			}
		}
	}
	return nil
}

// CaptureOptions converts the capture section for capture.New. The
// compositor logs through logger.
func (c *Config) CaptureOptions(logger *slog.Logger) capture.Config {
	return capture.Config{
		Logger:         logger,
		Budget:         c.Capture.Budget,
		InitialQuality: c.Capture.InitialQuality,
		MinQuality:     c.Capture.MinQuality,
		QualityStep:    c.Capture.QualityStep,
		MaxDimension:   c.Capture.MaxDimension,
		Settle:         c.Capture.Settle,
	}
}

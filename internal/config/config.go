package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"reportgen/internal/logging"
)

// Config holds all reportgen application settings.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Outbound HTTP used by request sources
	HTTP HTTPConfig `yaml:"http"`

	// Default database for query sources without a connection string
	Database DatabaseConfig `yaml:"database"`

	// Headless browser used for PDF output
	Browser BrowserConfig `yaml:"browser"`

	// HTTP API served by `reportgen serve`
	Server ServerConfig `yaml:"server"`
}

// HTTPConfig configures request sources.
type HTTPConfig struct {
	Timeout      string `yaml:"timeout"`
	ProbeTimeout string `yaml:"probe_timeout"`
	RetryMax     int    `yaml:"retry_max"` // retries after the first attempt
	RetryWaitMin string `yaml:"retry_wait_min"`
	RetryWaitMax string `yaml:"retry_wait_max"`
}

// DatabaseConfig configures query sources.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// BrowserConfig configures PDF lowering.
type BrowserConfig struct {
	Bin       string   `yaml:"bin"` // empty means look up Chrome/Chromium on PATH
	Timeout   string   `yaml:"timeout"`
	Flags     []string `yaml:"flags"`
	NoSandbox bool     `yaml:"no_sandbox"` // required when running as root in containers
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
	TemplateDir string `yaml:"template_dir"`
	DataDir     string `yaml:"data_dir"`
	ReadTimeout string `yaml:"read_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "reportgen",
		Version: "0.1.0",

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		HTTP: HTTPConfig{
			Timeout:      "30s",
			ProbeTimeout: "10s",
			RetryMax:     2,
			RetryWaitMin: "1s",
			RetryWaitMax: "10s",
		},

		Database: DatabaseConfig{
			MaxOpenConns: 4,
		},

		Browser: BrowserConfig{
			Timeout: "60s",
		},

		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8000,
			TemplateDir: "templates",
			DataDir:     "data",
			ReadTimeout: "30s",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("REPORTGEN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("REPORTGEN_DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if bin := os.Getenv("REPORTGEN_CHROME_BIN"); bin != "" {
		c.Browser.Bin = bin
	}
	if host := os.Getenv("REPORTGEN_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("REPORTGEN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if key := os.Getenv("REPORTGEN_API_KEY"); key != "" {
		c.Server.APIKey = key
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetHTTPTimeout returns the request source timeout.
func (c *Config) GetHTTPTimeout() time.Duration {
	return parseDuration(c.HTTP.Timeout, 30*time.Second)
}

// GetProbeTimeout returns the connection probe timeout.
func (c *Config) GetProbeTimeout() time.Duration {
	return parseDuration(c.HTTP.ProbeTimeout, 10*time.Second)
}

// GetRetryWaitMin returns the first retry backoff.
func (c *Config) GetRetryWaitMin() time.Duration {
	return parseDuration(c.HTTP.RetryWaitMin, time.Second)
}

// GetRetryWaitMax returns the backoff ceiling.
func (c *Config) GetRetryWaitMax() time.Duration {
	return parseDuration(c.HTTP.RetryWaitMax, 10*time.Second)
}

// GetBrowserTimeout returns the PDF lowering timeout.
func (c *Config) GetBrowserTimeout() time.Duration {
	return parseDuration(c.Browser.Timeout, 60*time.Second)
}

// GetServerReadTimeout returns the HTTP API read timeout.
func (c *Config) GetServerReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// Addr returns host:port for the HTTP API.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	switch c.Logging.Format {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("invalid logging format: %s (valid: json, console, text)", c.Logging.Format)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.HTTP.RetryMax < 0 {
		return fmt.Errorf("invalid http retry_max: %d", c.HTTP.RetryMax)
	}
	durations := map[string]string{
		"http.timeout":        c.HTTP.Timeout,
		"http.probe_timeout":  c.HTTP.ProbeTimeout,
		"http.retry_wait_min": c.HTTP.RetryWaitMin,
		"http.retry_wait_max": c.HTTP.RetryWaitMax,
		"browser.timeout":     c.Browser.Timeout,
		"server.read_timeout": c.Server.ReadTimeout,
	}
	for field, v := range durations {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// APPLICATION CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "reportgen", cfg.Name)
	assert.Equal(t, 2, cfg.HTTP.RetryMax)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8000", cfg.Addr())
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Port = 9090
	cfg.Browser.Bin = "/usr/bin/chromium"
	cfg.Logging.Categories = map[string]bool{"render": false}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "/usr/bin/chromium", loaded.Browser.Bin)
	assert.False(t, loaded.Logging.IsCategoryEnabled("render"))
	assert.True(t, loaded.Logging.IsCategoryEnabled("engine"))
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_LoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 30*time.Second, cfg.GetHTTPTimeout())
	assert.Equal(t, 10*time.Second, cfg.GetProbeTimeout())
	assert.Equal(t, time.Second, cfg.GetRetryWaitMin())
	assert.Equal(t, 60*time.Second, cfg.GetBrowserTimeout())

	cfg.HTTP.Timeout = "5s"
	cfg.HTTP.RetryWaitMin = "nonsense"
	assert.Equal(t, 5*time.Second, cfg.GetHTTPTimeout())
	assert.Equal(t, time.Second, cfg.GetRetryWaitMin())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging format"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"negative retries", func(c *Config) { c.HTTP.RetryMax = -1 }, "retry_max"},
		{"bad duration", func(c *Config) { c.HTTP.Timeout = "soon" }, "http.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoggingConfig_LoggerConfig(t *testing.T) {
	lc := LoggingConfig{Level: "warn", Format: "console", File: "out.log"}

	got := lc.LoggerConfig(false)
	assert.Equal(t, "warn", got.Level)
	assert.Equal(t, "console", got.Format)
	assert.Equal(t, "out.log", got.OutputPath)

	assert.Equal(t, "debug", lc.LoggerConfig(true).Level)
}

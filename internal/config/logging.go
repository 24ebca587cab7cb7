package config

import "reportgen/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, console
	File       string          `yaml:"file" json:"file,omitempty"`             // empty means stderr
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
	AuditFile  string          `yaml:"audit_file" json:"audit_file,omitempty"` // JSON lines audit trail; empty disables
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// LoggerConfig converts the settings for logging.Initialize. verbose forces
// debug level.
func (c *LoggingConfig) LoggerConfig(verbose bool) logging.Config {
	level := c.Level
	if verbose {
		level = "debug"
	}
	return logging.Config{
		Level:      level,
		Format:     c.Format,
		Categories: c.Categories,
		OutputPath: c.File,
	}
}

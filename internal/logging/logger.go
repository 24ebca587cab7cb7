// Package logging provides config-driven categorized logging for reportgen.
// A single zap logger is built once by the process entry point; every
// subsystem asks for a named child through Get. Until Initialize runs, Get
// hands out no-op loggers so that library code and tests stay silent.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Process startup, config loading
	CategoryEngine     Category = "engine"     // Report generation pipeline
	CategoryDataSource Category = "datasource" // Fetches and connectivity probes
	CategoryRender     Category = "render"     // Template compilation and rendering
	CategoryReport     Category = "report"     // Artifact persistence and delivery
	CategoryConfig     Category = "config"     // Configuration parsing
	CategoryServer     Category = "server"     // HTTP API
)

// AllCategories lists every known category in display order.
var AllCategories = []Category{
	CategoryBoot,
	CategoryEngine,
	CategoryDataSource,
	CategoryRender,
	CategoryReport,
	CategoryConfig,
	CategoryServer,
}

// Config mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports.
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	Categories map[string]bool // per-category toggles; nil enables all
	OutputPath string          // stderr when empty
}

var (
	mu          sync.RWMutex
	initialized bool
	root        = zap.NewNop()
	cfg         Config
	children    = make(map[Category]*zap.Logger)
)

// Initialize builds the process-wide logger. The first successful call
// wins; later calls return nil without touching the existing logger. A
// failed call leaves the no-op logger in place and can be retried.
func Initialize(c Config) error {
	mu.Lock()
	if initialized {
		mu.Unlock()
		return nil
	}
	logger, err := build(c)
	if err != nil {
		mu.Unlock()
		return err
	}
	root = logger
	cfg = c
	children = make(map[Category]*zap.Logger)
	initialized = true
	mu.Unlock()

	Get(CategoryBoot).Debug("logging initialized",
		zap.String("level", levelName(c.Level)),
		zap.String("format", c.Format),
	)
	return nil
}

func build(c Config) (*zap.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch strings.ToLower(c.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console", "text":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if c.OutputPath != "" {
		zc.OutputPaths = []string{c.OutputPath}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel converts a level name into a zap level. An empty name is info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

func levelName(name string) string {
	if name == "" {
		return "info"
	}
	return strings.ToLower(name)
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()

	if cfg.Categories == nil {
		return true // All enabled by default
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *zap.Logger {
	if !IsCategoryEnabled(category) {
		return zap.NewNop()
	}

	mu.RLock()
	if l, ok := children[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := children[category]; ok {
		return l
	}
	l := root.Named(string(category))
	children[category] = l
	return l
}

// ForSource returns the datasource logger annotated with a source's identity.
func ForSource(name, kind string) *zap.Logger {
	return Get(CategoryDataSource).With(zap.String("source", name), zap.String("kind", kind))
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	l := root
	mu.RUnlock()
	_ = l.Sync()
}

// SetForTest swaps the root logger and returns a restore func. The
// initialization guard is left untouched.
func SetForTest(logger *zap.Logger) func() {
	mu.Lock()
	prevRoot, prevChildren, prevCfg := root, children, cfg
	root = logger
	children = make(map[Category]*zap.Logger)
	cfg = Config{}
	mu.Unlock()

	return func() {
		mu.Lock()
		root, children, cfg = prevRoot, prevChildren, prevCfg
		mu.Unlock()
	}
}

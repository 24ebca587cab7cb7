// Package apperr defines the error taxonomy shared by every reportgen package.
//
// Connectors and the renderer return their own kind; the generation engine
// wraps anything raised during a pipeline run into a GenerationError so that
// callers of Generate only need to handle one kind.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel causes. Match them with errors.Is.
var (
	// ErrCapabilityUnavailable is returned when an optional rendering
	// capability (for example a headless browser for PDF output) is missing.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrNotSupported marks extension points that exist in the API but are not
	// implemented yet (email and object storage delivery).
	ErrNotSupported = errors.New("not yet supported")

	// ErrUnsupportedFileFormat is returned by file sources for unknown extensions.
	ErrUnsupportedFileFormat = errors.New("unsupported file format")

	// ErrUnsupportedFormat is returned for unknown report output formats.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// SourceKind tags a DataSourceError with the connector variant that raised it.
type SourceKind string

const (
	KindQuery   SourceKind = "query"
	KindRequest SourceKind = "request"
	KindFile    SourceKind = "file"
)

// ConfigurationError represents malformed or missing configuration.
type ConfigurationError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Path, e.detail())
	}
	return fmt.Sprintf("configuration error: %s", e.detail())
}

func (e *ConfigurationError) detail() string {
	if e.Cause != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NewConfigurationError creates a configuration error for path.
func NewConfigurationError(path, message string, cause error) error {
	return &ConfigurationError{Path: path, Message: message, Cause: cause}
}

// DataSourceError is raised by a source connector on any fetch or probe failure.
type DataSourceError struct {
	Kind    SourceKind
	Source  string
	Message string
	Cause   error
}

func (e *DataSourceError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Source != "" {
		return fmt.Sprintf("%s source %q: %s", e.Kind, e.Source, msg)
	}
	return fmt.Sprintf("%s source: %s", e.Kind, msg)
}

func (e *DataSourceError) Unwrap() error { return e.Cause }

// NewDataSourceError creates a data source error tagged with kind.
func NewDataSourceError(kind SourceKind, source, message string, cause error) error {
	return &DataSourceError{Kind: kind, Source: source, Message: message, Cause: cause}
}

// TemplateError represents a template that could not be loaded or parsed.
type TemplateError struct {
	Path    string
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Path != "" {
		return fmt.Sprintf("template error in %s: %s", e.Path, msg)
	}
	return fmt.Sprintf("template error: %s", msg)
}

func (e *TemplateError) Unwrap() error { return e.Cause }

// RenderError represents a template that parsed but failed to produce output.
type RenderError struct {
	Format  string
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Format != "" {
		return fmt.Sprintf("render error (%s): %s", e.Format, msg)
	}
	return fmt.Sprintf("render error: %s", msg)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// ValidationError is returned when a caller supplied value fails format checks.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// DeliveryError is returned by report delivery hooks.
type DeliveryError struct {
	Method string
	Cause  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed: %v", e.Method, e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// GenerationError wraps every failure raised during a Generate call.
type GenerationError struct {
	ReportID string
	Cause    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("report %s generation failed: %v", e.ReportID, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// KindOf reports the source kind of err when it is, or wraps, a DataSourceError.
func KindOf(err error) (SourceKind, bool) {
	var dse *DataSourceError
	if errors.As(err, &dse) {
		return dse.Kind, true
	}
	return "", false
}

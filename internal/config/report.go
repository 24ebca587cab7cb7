package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"reportgen/internal/apperr"
	"reportgen/internal/validate"
)

// Canonical source types. The aliases "database" and "api" are accepted in
// report files.
const (
	SourceQuery   = "query"
	SourceRequest = "request"
	SourceFile    = "file"
)

// ReportConfig describes one report: where its data comes from, how it is
// rendered and where it should go.
type ReportConfig struct {
	Name           string          `yaml:"name" json:"name"`
	Template       string          `yaml:"template" json:"template,omitempty"`
	InlineTemplate string          `yaml:"inline_template" json:"inline_template,omitempty"`
	Sources        []SourceConfig  `yaml:"sources" json:"sources"`
	OutputFormat   string          `yaml:"output_format" json:"output_format,omitempty"`
	Parameters     map[string]any  `yaml:"parameters" json:"parameters,omitempty"`
	Delivery       *DeliveryConfig `yaml:"delivery" json:"delivery,omitempty"`
}

// SourceConfig holds the settings of one data source. Which fields apply
// depends on Type.
type SourceConfig struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name" json:"name,omitempty"`

	// query
	Connection string `yaml:"connection" json:"connection,omitempty"`
	Query      string `yaml:"query" json:"query,omitempty"`
	Args       []any  `yaml:"args" json:"args,omitempty"`

	// request
	URL       string            `yaml:"url" json:"url,omitempty"`
	Method    string            `yaml:"method" json:"method,omitempty"`
	Headers   map[string]string `yaml:"headers" json:"headers,omitempty"`
	Params    map[string]string `yaml:"params" json:"params,omitempty"`
	Body      map[string]any    `yaml:"body" json:"body,omitempty"`
	AuthToken string            `yaml:"auth_token" json:"auth_token,omitempty"`
	Timeout   string            `yaml:"timeout" json:"timeout,omitempty"`

	// file
	Path      string `yaml:"path" json:"path,omitempty"`
	Sheet     string `yaml:"sheet" json:"sheet,omitempty"` // name, or zero-based index
	Delimiter string `yaml:"delimiter" json:"delimiter,omitempty"`
}

// DeliveryConfig lists delivery targets. Delivery itself is not performed
// yet; the settings are validated so that report files stay forward
// compatible.
type DeliveryConfig struct {
	Email    []string `yaml:"email" json:"email,omitempty"`
	Schedule string   `yaml:"schedule" json:"schedule,omitempty"`
	Storage  string   `yaml:"storage" json:"storage,omitempty"`
}

// Kind returns the canonical source type, or "" when Type is unknown.
func (s SourceConfig) Kind() string {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case "query", "database", "db", "sql":
		return SourceQuery
	case "request", "api", "http":
		return SourceRequest
	case "file":
		return SourceFile
	}
	return ""
}

// LoadReport reads and validates a report file (.yaml, .yml or .json).
func LoadReport(path string) (*ReportConfig, error) {
	rc := &ReportConfig{}
	if err := decodeFile(path, rc); err != nil {
		return nil, err
	}
	rc.applyDefaults()
	if err := rc.Validate(); err != nil {
		return nil, apperr.NewConfigurationError(path, "invalid report configuration", err)
	}
	return rc, nil
}

// ParseReport decodes and validates a JSON report configuration (comments
// and trailing commas allowed). name labels errors in place of a path.
func ParseReport(data []byte, name string) (*ReportConfig, error) {
	rc := &ReportConfig{}
	if err := json.Unmarshal(jsonc.ToJSON(data), rc); err != nil {
		return nil, apperr.NewConfigurationError(name, "invalid JSON syntax", err)
	}
	rc.applyDefaults()
	if err := rc.Validate(); err != nil {
		return nil, apperr.NewConfigurationError(name, "invalid report configuration", err)
	}
	return rc, nil
}

func (rc *ReportConfig) applyDefaults() {
	if rc.OutputFormat == "" {
		rc.OutputFormat = "pdf"
	}
	rc.OutputFormat = strings.ToLower(rc.OutputFormat)
	if rc.Parameters == nil {
		rc.Parameters = map[string]any{}
	}
}

// Validate reports every problem found, joined into one error.
func (rc *ReportConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(rc.Name) == "" {
		errs = append(errs, &apperr.ValidationError{Field: "name", Message: "is required"})
	}

	format := rc.OutputFormat
	if format == "" {
		format = "pdf"
	}
	if err := validate.OutputFormat(format); err != nil {
		errs = append(errs, err)
	} else if validate.NeedsTemplate(format) && rc.Template == "" && rc.InlineTemplate == "" {
		errs = append(errs, &apperr.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("is required for %s output", format),
		})
	}

	if len(rc.Sources) == 0 {
		errs = append(errs, &apperr.ValidationError{Field: "sources", Message: "at least one source is required"})
	}
	for i, s := range rc.Sources {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}

	if rc.Delivery != nil {
		for _, addr := range rc.Delivery.Email {
			if err := validate.Email(addr); err != nil {
				errs = append(errs, fmt.Errorf("delivery: %w", err))
			}
		}
		if rc.Delivery.Schedule != "" {
			if err := validate.Cron(rc.Delivery.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("delivery: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

// Validate checks the fields required by the source's type.
func (s SourceConfig) Validate() error {
	switch s.Kind() {
	case SourceQuery:
		if s.Query == "" {
			return &apperr.ValidationError{Field: "query", Message: "is required for query sources"}
		}
	case SourceRequest:
		if err := validate.URL(s.URL); err != nil {
			return err
		}
		switch strings.ToUpper(s.Method) {
		case "", "GET", "POST":
		default:
			return &apperr.ValidationError{Field: "method", Value: s.Method, Message: "must be GET or POST"}
		}
	case SourceFile:
		if s.Path == "" {
			return &apperr.ValidationError{Field: "path", Message: "is required for file sources"}
		}
		if len([]rune(s.Delimiter)) > 1 {
			return &apperr.ValidationError{Field: "delimiter", Value: s.Delimiter, Message: "must be a single character"}
		}
	default:
		return &apperr.ValidationError{Field: "type", Value: s.Type, Message: "must be query, request or file"}
	}
	return nil
}

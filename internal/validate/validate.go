// Package validate checks user supplied report settings before they reach
// the engine. Every failure is an *apperr.ValidationError naming the field.
package validate

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"

	"reportgen/internal/apperr"
)

// OutputFormats lists the formats the engine can produce.
var OutputFormats = []string{"html", "pdf", "json", "excel", "csv", "parquet", "markdown"}

// dataFormats are serialized straight from the merged tables.
var dataFormats = []string{"json", "excel", "csv", "parquet"}

// NeedsTemplate reports whether format is produced by rendering a template.
func NeedsTemplate(format string) bool {
	return !slices.Contains(dataFormats, strings.ToLower(format))
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	urlSchemes = []string{"http", "https", "ftp", "ftps"}

	// Standard five field expressions, with an optional leading seconds field.
	cronParser = cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
)

// Email checks that addr is a bare address such as user@example.com.
func Email(addr string) error {
	if !emailPattern.MatchString(addr) {
		return &apperr.ValidationError{Field: "email", Value: addr, Message: "not a valid email address"}
	}
	if _, err := mail.ParseAddress(addr); err != nil {
		return &apperr.ValidationError{Field: "email", Value: addr, Message: err.Error()}
	}
	return nil
}

// URL checks that raw is an absolute http, https, ftp or ftps URL.
func URL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &apperr.ValidationError{Field: "url", Value: raw, Message: err.Error()}
	}
	if u.Scheme == "" || u.Host == "" {
		return &apperr.ValidationError{Field: "url", Value: raw, Message: "scheme and host are required"}
	}
	if !slices.Contains(urlSchemes, strings.ToLower(u.Scheme)) {
		return &apperr.ValidationError{Field: "url", Value: raw, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	return nil
}

// Cron checks a schedule expression of 5 fields, or 6 with seconds.
func Cron(expr string) error {
	fields := strings.Fields(expr)
	if !strings.HasPrefix(expr, "@") && len(fields) != 5 && len(fields) != 6 {
		return &apperr.ValidationError{
			Field:   "cron",
			Value:   expr,
			Message: fmt.Sprintf("expected 5 or 6 fields, got %d", len(fields)),
		}
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return &apperr.ValidationError{Field: "cron", Value: expr, Message: err.Error()}
	}
	return nil
}

// OutputFormat checks format against OutputFormats, ignoring case.
func OutputFormat(format string) error {
	if !slices.Contains(OutputFormats, strings.ToLower(format)) {
		return &apperr.ValidationError{
			Field:   "output_format",
			Value:   format,
			Message: fmt.Sprintf("must be one of %s", strings.Join(OutputFormats, ", ")),
		}
	}
	return nil
}

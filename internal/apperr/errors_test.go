package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSourceErrorMessage(t *testing.T) {
	err := NewDataSourceError(KindRequest, "orders", "request failed", io.ErrUnexpectedEOF)
	assert.Equal(t, `request source "orders": request failed: unexpected EOF`, err.Error())
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	anon := NewDataSourceError(KindFile, "", "file not found", nil)
	assert.Equal(t, "file source: file not found", anon.Error())
}

func TestGenerationErrorUnwrapsChain(t *testing.T) {
	cause := NewDataSourceError(KindQuery, "sales", "query failed", errors.New("no such table"))
	err := &GenerationError{ReportID: "rpt_1", Cause: cause}

	assert.Contains(t, err.Error(), "report rpt_1 generation failed")
	assert.Contains(t, err.Error(), "no such table")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindQuery, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"delivery", &DeliveryError{Method: "email", Cause: ErrNotSupported}, ErrNotSupported},
		{"render", &RenderError{Format: "pdf", Message: "no browser", Cause: ErrCapabilityUnavailable}, ErrCapabilityUnavailable},
		{"generation", &GenerationError{ReportID: "x", Cause: fmt.Errorf("export: %w", ErrUnsupportedFormat)}, ErrUnsupportedFormat},
		{"config", NewConfigurationError("a.yaml", "", ErrUnsupportedFileFormat), ErrUnsupportedFileFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.want))
		})
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	assert.Equal(t, "configuration error in r.yaml: missing name",
		NewConfigurationError("r.yaml", "missing name", nil).Error())
	assert.Equal(t, "configuration error: bad: boom",
		NewConfigurationError("", "bad", errors.New("boom")).Error())
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "email", Value: "nope", Message: "missing @"}
	assert.Equal(t, `invalid email "nope": missing @`, err.Error())

	var ve *ValidationError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", err), &ve))
	assert.Equal(t, "email", ve.Field)
}

func TestTemplateErrorMessage(t *testing.T) {
	err := &TemplateError{Path: "report.html", Message: "parse failed", Cause: errors.New("unclosed tag")}
	assert.Equal(t, "template error in report.html: parse failed: unclosed tag", err.Error())
}

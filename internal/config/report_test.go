package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportgen/internal/apperr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileYAMLAndJSON(t *testing.T) {
	yamlPath := writeFile(t, "report.yaml", "name: Sales\ntemplate: sales.html\nparameters:\n  title: Q1\n")
	m, err := LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Sales", m["name"])
	assert.Equal(t, map[string]any{"title": "Q1"}, m["parameters"])

	jsonPath := writeFile(t, "report.json", `{
		// comments are allowed
		"name": "Sales",
		"sources": [],
	}`)
	m, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "Sales", m["name"])

	empty := writeFile(t, "empty.yml", "")
	m, err = LoadFile(empty)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLoadFileErrorsNamePath(t *testing.T) {
	var cfgErr *apperr.ConfigurationError

	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadFile(missing)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, missing, cfgErr.Path)
	assert.Contains(t, err.Error(), "not found")

	toml := writeFile(t, "report.toml", "name = 'x'")
	_, err = LoadFile(toml)
	require.True(t, errors.As(err, &cfgErr))
	assert.True(t, errors.Is(err, apperr.ErrUnsupportedFileFormat))
	assert.Contains(t, err.Error(), ".toml")

	badYAML := writeFile(t, "bad.yaml", "name: [oops")
	_, err = LoadFile(badYAML)
	assert.ErrorContains(t, err, "invalid YAML syntax")

	badJSON := writeFile(t, "bad.json", `{"name": }`)
	_, err = LoadFile(badJSON)
	assert.ErrorContains(t, err, "invalid JSON syntax")
}

func TestLoadReport(t *testing.T) {
	path := writeFile(t, "monthly.yaml", `
name: Monthly Sales
template: templates/sales.html
output_format: HTML
parameters:
  title: Monthly Sales
sources:
  - type: database
    name: sales
    connection: sqlite:///tmp/sales.db
    query: SELECT * FROM sales
  - type: api
    name: targets
    url: https://api.example.com/targets
    headers:
      Accept: application/json
  - type: file
    name: regions
    path: data/regions.csv
delivery:
  email: [ops@example.com]
  schedule: "0 9 * * MON"
`)
	rc, err := LoadReport(path)
	require.NoError(t, err)

	assert.Equal(t, "Monthly Sales", rc.Name)
	assert.Equal(t, "html", rc.OutputFormat)
	require.Len(t, rc.Sources, 3)
	assert.Equal(t, SourceQuery, rc.Sources[0].Kind())
	assert.Equal(t, SourceRequest, rc.Sources[1].Kind())
	assert.Equal(t, SourceFile, rc.Sources[2].Kind())
	assert.Equal(t, "application/json", rc.Sources[1].Headers["Accept"])
	assert.Equal(t, []string{"ops@example.com"}, rc.Delivery.Email)
}

func TestLoadReportDefaultsToPDF(t *testing.T) {
	path := writeFile(t, "r.json", `{"name": "r", "template": "t.html", "sources": [{"type": "file", "path": "a.csv"}]}`)
	rc, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "pdf", rc.OutputFormat)
	assert.NotNil(t, rc.Parameters)
}

func TestReportValidateCollectsEveryProblem(t *testing.T) {
	rc := &ReportConfig{
		OutputFormat: "docx",
		Sources: []SourceConfig{
			{Type: "ftp"},
			{Type: "request", URL: "not a url"},
			{Type: "file"},
		},
		Delivery: &DeliveryConfig{Email: []string{"bad"}, Schedule: "every day"},
	}
	err := rc.Validate()
	require.Error(t, err)

	for _, want := range []string{
		"invalid name",
		`invalid output_format "docx"`,
		"sources[0]",
		"sources[1]",
		"sources[2]",
		"invalid email",
		"invalid cron",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestReportValidateTemplateOnlyForTextFormats(t *testing.T) {
	sources := []SourceConfig{{Type: "file", Path: "a.csv"}}

	data := &ReportConfig{Name: "r", OutputFormat: "json", Sources: sources}
	assert.NoError(t, data.Validate())

	text := &ReportConfig{Name: "r", OutputFormat: "html", Sources: sources}
	assert.ErrorContains(t, text.Validate(), "template")

	inline := &ReportConfig{Name: "r", OutputFormat: "html", InlineTemplate: "<p>{{ x }}</p>", Sources: sources}
	assert.NoError(t, inline.Validate())
}

func TestSourceConfigValidate(t *testing.T) {
	assert.NoError(t, SourceConfig{Type: "query", Query: "SELECT 1"}.Validate())
	assert.Error(t, SourceConfig{Type: "query"}.Validate())
	assert.Error(t, SourceConfig{Type: "api", URL: "https://x.example.com", Method: "DELETE"}.Validate())
	assert.Error(t, SourceConfig{Type: "file", Path: "a.csv", Delimiter: "||"}.Validate())
	assert.NoError(t, SourceConfig{Type: "file", Path: "a.tsv", Delimiter: "\t"}.Validate())
}

func TestParseReport(t *testing.T) {
	rc, err := ParseReport([]byte(`{
		"name": "Sales",
		"output_format": "JSON",
		"sources": [{"type": "file", "path": "sales.csv"}], // trailing comma next
	}`), "request body")
	require.NoError(t, err)
	assert.Equal(t, "json", rc.OutputFormat)
	assert.NotNil(t, rc.Parameters)
	require.Len(t, rc.Sources, 1)
	assert.Equal(t, SourceFile, rc.Sources[0].Kind())

	_, err = ParseReport([]byte(`{"name": "x", "output_format": "json"}`), "request body")
	var cfgErr *apperr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "request body", cfgErr.Path)

	_, err = ParseReport([]byte(`{"name": `), "request body")
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "invalid JSON")
}

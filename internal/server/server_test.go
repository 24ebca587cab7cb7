package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportgen/internal/datasource"
	"reportgen/internal/engine"
)

type fixture struct {
	srv         *httptest.Server
	templateDir string
	dataDir     string
	csvPath     string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	templateDir := filepath.Join(dir, "templates")
	require.NoError(t, os.MkdirAll(templateDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(templateDir, "sales.html"),
		[]byte("<h1>{{ title }}</h1>{% for r in data.rows %}<li>{{ r.product }}:{{ r.units }}</li>{% endfor %}"), 0644))

	csvPath := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("product,units\nA,3\nB,5\n"), 0644))

	cfg.TemplateDir = templateDir
	cfg.DataDir = dir
	cfg.Sources = datasource.Options{RetryMax: -1}
	srv := httptest.NewServer(New(cfg, engine.New()).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, templateDir: templateDir, dataDir: dir, csvPath: csvPath}
}

func (f *fixture) do(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func (f *fixture) fileSource() string {
	data, _ := json.Marshal(f.csvPath)
	return `{"type": "file", "name": "sales", "path": ` + string(data) + `}`
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, readAll(t, resp))
}

func TestGenerateJSON(t *testing.T) {
	f := newFixture(t, Config{})
	body := `{"name": "Sales", "output_format": "json", "sources": [` + f.fileSource() + `]}`

	resp := f.do(t, http.MethodPost, "/api/v1/reports", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Regexp(t, `^rpt_[0-9a-f]{32}$`, resp.Header.Get("X-Report-ID"))
	assert.Len(t, resp.Header.Get("X-Report-Checksum"), 64)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".json")
	assert.JSONEq(t, `[{"product":"A","units":3},{"product":"B","units":5}]`, readAll(t, resp))
}

func TestGenerateHTMLFromTemplateDir(t *testing.T) {
	f := newFixture(t, Config{})
	body := `{
		"name": "Sales",
		"template": "sales.html",
		"output_format": "html",
		"parameters": {"title": "Weekly"},
		"sources": [` + f.fileSource() + `]
	}`

	resp := f.do(t, http.MethodPost, "/api/v1/reports", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<h1>Weekly</h1><li>A:3</li><li>B:5</li>", readAll(t, resp))
}

func TestGenerateWrappedWithFormatOverride(t *testing.T) {
	f := newFixture(t, Config{})
	body := `{
		"report": {"name": "Sales", "inline_template": "{{ data.count }}", "output_format": "html", "sources": [` + f.fileSource() + `]},
		"options": {"format": "csv"}
	}`
	resp := f.do(t, http.MethodPost, "/api/v1/reports", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "product,units\nA,3\nB,5\n", readAll(t, resp))

	resp = f.do(t, http.MethodPost, "/api/v1/reports?format=markdown", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", readAll(t, resp))
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	f := newFixture(t, Config{})
	src := f.fileSource()

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		want   string
	}{
		{"not json", "/api/v1/reports", `nope`, http.StatusBadRequest, "JSON object"},
		{"null body", "/api/v1/reports", `null`, http.StatusBadRequest, "JSON object"},
		{"no sources", "/api/v1/reports", `{"name": "x", "output_format": "json"}`, http.StatusBadRequest, "at least one source"},
		{"unsupported format", "/api/v1/reports?format=docx", `{"name": "x", "sources": [` + src + `]}`, http.StatusBadRequest, "docx"},
		{"template escapes dir", "/api/v1/reports", `{"name": "x", "template": "../secret.html", "output_format": "html", "sources": [` + src + `]}`, http.StatusBadRequest, "template directory"},
		{"missing template", "/api/v1/reports", `{"name": "x", "template": "nope.html", "output_format": "html", "sources": [` + src + `]}`, http.StatusUnprocessableEntity, "nope.html"},
		{"bad inline template", "/api/v1/reports", `{"name": "x", "inline_template": "{{ unclosed", "output_format": "html", "sources": [` + src + `]}`, http.StatusUnprocessableEntity, "syntax error"},
		{"missing file", "/api/v1/reports", `{"name": "x", "output_format": "json", "sources": [{"type": "file", "path": "not-here.csv"}]}`, http.StatusBadGateway, "file not found"},
		{"file outside data dir", "/api/v1/reports", `{"name": "x", "output_format": "json", "sources": [{"type": "file", "path": "/etc/hosts"}]}`, http.StatusBadRequest, "data directory"},
		{"relative escape", "/api/v1/reports", `{"name": "x", "output_format": "json", "sources": [{"type": "file", "path": "../sales.csv"}]}`, http.StatusBadRequest, "data directory"},
		{"sqlite outside data dir", "/api/v1/reports", `{"name": "x", "output_format": "json", "sources": [{"type": "query", "connection": "sqlite:///etc/app.db", "query": "SELECT 1"}]}`, http.StatusBadRequest, "data directory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Contains(t, decodeError(t, resp).Error, tt.want)
		})
	}
}

func TestGenerateSourceFailureCarriesReportID(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	f := newFixture(t, Config{})
	body := `{"name": "x", "output_format": "json", "sources": [{"type": "api", "name": "crm", "url": "` + upstream.URL + `"}]}`
	resp := f.do(t, http.MethodPost, "/api/v1/reports", body, nil)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Regexp(t, `^rpt_[0-9a-f]{32}$`, e.ReportID)
	assert.Contains(t, e.Error, "unexpected status 500")
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 16})
	resp := f.do(t, http.MethodPost, "/api/v1/reports", `{"name": "a report with a long name"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"})
	body := `{"name": "Sales", "output_format": "json", "sources": [` + f.fileSource() + `]}`

	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/reports", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp = f.do(t, http.MethodPost, "/api/v1/reports", body, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/reports", body, http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.do(t, http.MethodGet, "/api/v1/reports", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTestSources(t *testing.T) {
	f := newFixture(t, Config{})
	missingDB, _ := json.Marshal("sqlite://" + filepath.Join(f.dataDir, "missing", "x.db"))
	body := `{"sources": [` + f.fileSource() + `, {"type": "query", "name": "db", "connection": ` + string(missingDB) + `, "query": "SELECT 1"}]}`

	resp := f.do(t, http.MethodPost, "/api/v1/sources/test", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got probeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.False(t, got.OK)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "sales", got.Results[0].Name)
	assert.True(t, got.Results[0].OK)
	assert.Equal(t, "db", got.Results[1].Name)
	assert.False(t, got.Results[1].OK)
	assert.NotEmpty(t, got.Results[1].Error)

	resp = f.do(t, http.MethodPost, "/api/v1/sources/test", `{"sources": []}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/sources/test", `{"sources": [{"type": "ftp"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/sources/test", `{"sources": [{"type": "file", "path": "/etc/hosts"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp).Error, "data directory")
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{}, engine.New())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()
	require.NoError(t, <-done)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

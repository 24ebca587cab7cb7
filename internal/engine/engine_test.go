package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"reportgen/internal/apperr"
	"reportgen/internal/datasource"
	"reportgen/internal/logging"
	"reportgen/internal/render"
	"reportgen/internal/table"
)

// stubSource returns a fixed table or error and counts fetches.
type stubSource struct {
	name  string
	tbl   *table.Table
	err   error
	calls int
}

func (s *stubSource) Name() string          { return s.name }
func (s *stubSource) Kind() datasource.Kind { return datasource.KindFile }

func (s *stubSource) Fetch(context.Context) (*table.Table, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.tbl, nil
}

func (s *stubSource) TestConnection(context.Context) (bool, error) { return s.err == nil, s.err }

func mustTable(t *testing.T, names []string, rows ...[]any) *table.Table {
	t.Helper()
	tbl, err := table.FromRows(names, rows)
	require.NoError(t, err)
	return tbl
}

func sources(ss ...*stubSource) []datasource.Source {
	out := make([]datasource.Source, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var reportID = regexp.MustCompile(`^rpt_[0-9a-f]{32}$`)

func TestFetchAllSingleSourceIsPassthrough(t *testing.T) {
	tbl := mustTable(t, []string{"x"}, []any{int64(1)})
	merged, keys, err := New().fetchAll(context.Background(), "rpt_test", sources(&stubSource{name: "sales", tbl: tbl}))
	require.NoError(t, err)

	assert.Equal(t, SingleContext, merged.Kind())
	got, name, ok := merged.Single()
	require.True(t, ok)
	assert.Same(t, tbl, got)
	assert.Equal(t, "sales", name)
	assert.Equal(t, []string{"sales"}, keys)

	_, ok = merged.Multiple()
	assert.False(t, ok)
}

func TestFetchAllDistinctNames(t *testing.T) {
	a := mustTable(t, []string{"a"}, []any{"1"})
	b := mustTable(t, []string{"b"}, []any{"2"})
	c := mustTable(t, []string{"c"}, []any{"3"})

	merged, _, err := New().fetchAll(context.Background(), "rpt_test",
		sources(&stubSource{name: "a", tbl: a}, &stubSource{name: "b", tbl: b}, &stubSource{name: "c", tbl: c}))
	require.NoError(t, err)

	m, ok := merged.Multiple()
	require.True(t, ok)
	if diff := cmp.Diff([]string{"a", "b", "c"}, m.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	for name, want := range map[string]*table.Table{"a": a, "b": b, "c": c} {
		got, ok := m.Get(name)
		require.True(t, ok)
		assert.Same(t, want, got, name)
	}
}

func TestFetchAllUnnamedSources(t *testing.T) {
	merged, keys, err := New().fetchAll(context.Background(), "rpt_test", sources(
		&stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(1)})},
		&stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(2)})},
	))
	require.NoError(t, err)
	m, ok := merged.Multiple()
	require.True(t, ok)
	assert.Equal(t, []string{"source_0", "source_1"}, m.Names())
	assert.Equal(t, []string{"source_0", "source_1"}, keys)
}

func TestFetchAllCollisionLaterWins(t *testing.T) {
	first := mustTable(t, []string{"v"}, []any{"first"})
	middle := mustTable(t, []string{"v"}, []any{"middle"})
	second := mustTable(t, []string{"v"}, []any{"second"})

	merged, keys, err := New().fetchAll(context.Background(), "rpt_test", sources(
		&stubSource{name: "dup", tbl: first},
		&stubSource{name: "other", tbl: middle},
		&stubSource{name: "dup", tbl: second},
	))
	require.NoError(t, err)

	m, ok := merged.Multiple()
	require.True(t, ok)
	assert.Equal(t, []string{"dup", "other"}, m.Names())
	got, _ := m.Get("dup")
	assert.Same(t, second, got)
	assert.Equal(t, []string{"dup", "other", "dup"}, keys)
}

func TestFetchAllTwoSourcesSameNameStillMapping(t *testing.T) {
	second := mustTable(t, []string{"v"}, []any{int64(2)})
	merged, _, err := New().fetchAll(context.Background(), "rpt_test", sources(
		&stubSource{name: "x", tbl: mustTable(t, []string{"v"}, []any{int64(1)})},
		&stubSource{name: "x", tbl: second},
	))
	require.NoError(t, err)
	m, ok := merged.Multiple()
	require.True(t, ok)
	assert.Equal(t, 1, m.Len())
	got, _ := m.Get("x")
	assert.Same(t, second, got)
}

func TestGenerateJSONShapes(t *testing.T) {
	e := New()
	sales := mustTable(t, []string{"product", "units"}, []any{"A", int64(3)})
	stock := mustTable(t, []string{"sku"}, []any{"s-1"}, []any{"s-2"})

	single, err := e.Generate(context.Background(), TemplateRef{}, sources(&stubSource{name: "sales", tbl: sales}), "json", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"product":"A","units":3}]`, string(single.Content()))

	multi, err := e.Generate(context.Background(), TemplateRef{},
		sources(&stubSource{name: "sales", tbl: sales}, &stubSource{name: "stock", tbl: stock}), "JSON", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sales":[{"product":"A","units":3}],"stock":[{"sku":"s-1"},{"sku":"s-2"}]}`, string(multi.Content()))
	assert.Equal(t, "json", multi.Format())

	// key order follows the sources
	assert.Less(t, bytes.Index(multi.Content(), []byte(`"sales"`)), bytes.Index(multi.Content(), []byte(`"stock"`)))
}

func TestGenerateHTML(t *testing.T) {
	tmpl, err := render.FromString("<h1>{{ title }}</h1>{% for r in data.rows %}<p>{{ r.product }}</p>{% endfor %}")
	require.NoError(t, err)

	params := map[string]any{"title": "Weekly", "data": "discarded"}
	rep, err := New().Generate(context.Background(), Compiled(tmpl),
		sources(&stubSource{tbl: mustTable(t, []string{"product"}, []any{"A"}, []any{"<B>"})}), "html", params)
	require.NoError(t, err)

	assert.Equal(t, "<h1>Weekly</h1><p>A</p><p>&lt;B&gt;</p>", string(rep.Content()))
	assert.Equal(t, "discarded", params["data"], "caller params are not modified")
	assert.Equal(t, "text/html; charset=utf-8", rep.ContentType())
}

func TestGenerateMultipleSourcesInTemplate(t *testing.T) {
	tmpl, err := render.FromString("{{ data.a.count }}/{{ data.b.count }}")
	require.NoError(t, err)
	rep, err := New().Generate(context.Background(), Compiled(tmpl), sources(
		&stubSource{name: "a", tbl: mustTable(t, []string{"v"}, []any{int64(1)})},
		&stubSource{name: "b", tbl: mustTable(t, []string{"v"}, []any{int64(1)}, []any{int64(2)})},
	), "html", nil)
	require.NoError(t, err)
	assert.Equal(t, "1/2", string(rep.Content()))
}

func TestGenerateMarkdownAndTemplatePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	require.NoError(t, os.WriteFile(path, []byte("# {{ title }}\n\nrows: {{ data.count }}\n"), 0644))
	src := &stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(1)})}

	md, err := New().Generate(context.Background(), TemplatePath(path), sources(src), "markdown", map[string]any{"title": "Q1"})
	require.NoError(t, err)
	assert.Equal(t, "# Q1\n\nrows: 1\n", string(md.Content()))

	html, err := New().Generate(context.Background(), TemplatePath(path), sources(src), "html", map[string]any{"title": "Q1"})
	require.NoError(t, err)
	assert.Contains(t, string(html.Content()), "<h1>Q1</h1>")
}

func TestGenerateUnsupportedFormat(t *testing.T) {
	for _, format := range []string{"docx", "DOCX", " Docx "} {
		t.Run(format, func(t *testing.T) {
			src := &stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(1)})}
			_, err := New().Generate(context.Background(), TemplateRef{}, sources(src), format, nil)
			require.Error(t, err)

			var ge *apperr.GenerationError
			require.True(t, errors.As(err, &ge))
			assert.Regexp(t, reportID, ge.ReportID)
			assert.True(t, errors.Is(err, apperr.ErrUnsupportedFormat))
			assert.Contains(t, err.Error(), fmt.Sprintf("%q", format))
			assert.Zero(t, src.calls)
		})
	}
}

func TestGenerateAcceptsMixedCaseFormat(t *testing.T) {
	src := &stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(1)})}
	report, err := New().Generate(context.Background(), TemplateRef{}, sources(src), " JSON ", nil)
	require.NoError(t, err)
	assert.Equal(t, "json", report.Format())
}

func TestGenerateWrapsSourceErrors(t *testing.T) {
	cause := apperr.NewDataSourceError(datasource.KindRequest, "crm", "unexpected status 500", nil)
	failing := &stubSource{name: "crm", err: cause}
	after := &stubSource{name: "later", tbl: mustTable(t, []string{"v"}, []any{int64(1)})}

	_, err := New().Generate(context.Background(), TemplateRef{}, sources(failing, after), "json", nil)
	require.Error(t, err)

	var ge *apperr.GenerationError
	require.True(t, errors.As(err, &ge))
	var dse *apperr.DataSourceError
	require.True(t, errors.As(err, &dse))
	assert.Equal(t, datasource.KindRequest, dse.Kind)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Equal(t, 0, after.calls, "generation stops at the first failure")
}

func TestGenerateTemplateErrors(t *testing.T) {
	src := &stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(1)})}

	_, err := New().Generate(context.Background(), TemplateRef{}, sources(src), "html", nil)
	assert.ErrorContains(t, err, "html output needs a template")

	_, err = New().Generate(context.Background(), TemplatePath(filepath.Join(t.TempDir(), "nope.html")), sources(src), "html", nil)
	var te *apperr.TemplateError
	assert.True(t, errors.As(err, &te))
}

func TestGeneratePDFWithoutBrowser(t *testing.T) {
	tmpl, err := render.FromString("<p>{{ data.count }}</p>")
	require.NoError(t, err)
	e := New(WithPrinter(render.NewPrinter(render.PrinterConfig{Bin: filepath.Join(t.TempDir(), "chrome")})))

	_, err = e.Generate(context.Background(), Compiled(tmpl),
		sources(&stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(1)})}), "pdf", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCapabilityUnavailable))
	var re *apperr.RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "pdf", re.Format)
}

func TestGenerateExcel(t *testing.T) {
	rep, err := New().Generate(context.Background(), TemplateRef{}, sources(
		&stubSource{name: "sales/2025", tbl: mustTable(t, []string{"product", "units"}, []any{"A", int64(3)}, []any{"B", nil})},
		&stubSource{tbl: mustTable(t, []string{"sku"}, []any{"s-1"})},
	), "excel", nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(rep.Content()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"sales_2025", "source_1"}, f.GetSheetList())
	rows, err := f.GetRows("sales_2025")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, [][]string{{"product", "units"}, {"A", "3"}}, rows[:2])
	assert.Equal(t, "B", rows[2][0])
	assert.Equal(t, ".xlsx", Extension(rep.Format()))
}

func TestGenerateCSVAndParquetNeedOneSource(t *testing.T) {
	tbl := mustTable(t, []string{"name", "score"}, []any{"a,b", 1.5}, []any{"c", nil})
	e := New()

	rep, err := e.Generate(context.Background(), TemplateRef{}, sources(&stubSource{tbl: tbl}), "csv", nil)
	require.NoError(t, err)
	assert.Equal(t, "name,score\n\"a,b\",1.5\nc,\n", string(rep.Content()))

	pq, err := e.Generate(context.Background(), TemplateRef{}, sources(&stubSource{tbl: tbl}), "parquet", nil)
	require.NoError(t, err)
	back, err := table.ReadParquet(context.Background(), bytes.NewReader(pq.Content()))
	require.NoError(t, err)
	assert.True(t, tbl.Equal(back))

	two := sources(&stubSource{name: "a", tbl: tbl}, &stubSource{name: "b", tbl: tbl})
	for _, format := range []string{"csv", "parquet"} {
		_, err := e.Generate(context.Background(), TemplateRef{}, two, format, nil)
		assert.ErrorContains(t, err, "needs exactly one source, got 2", format)
	}
}

func TestGenerateMetadata(t *testing.T) {
	rep, err := New().Generate(context.Background(), TemplateRef{}, sources(
		&stubSource{name: "sales", tbl: mustTable(t, []string{"v"}, []any{int64(1)})},
		&stubSource{tbl: mustTable(t, []string{"v"}, []any{int64(2)})},
	), "json", nil)
	require.NoError(t, err)

	md := rep.Metadata()
	assert.Regexp(t, reportID, rep.ID())
	assert.Equal(t, rep.ID(), md.ReportID)
	assert.Equal(t, []string{"sales", "source_1"}, md.Sources)
	assert.Equal(t, "json", md.OutputFormat)
	assert.Equal(t, rep.Size(), md.SizeBytes)
	assert.Equal(t, Checksum(rep.Content()), md.Checksum)
	assert.GreaterOrEqual(t, md.GenerationTimeMS, 0.0)
	assert.False(t, md.CreatedAt.IsZero())
}

func TestGenerateZeroSources(t *testing.T) {
	rep, err := New().Generate(context.Background(), TemplateRef{}, nil, "json", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(rep.Content()))
}

func TestMerge(t *testing.T) {
	a := mustTable(t, []string{"v"}, []any{int64(1)})
	b := mustTable(t, []string{"v"}, []any{int64(2)})

	single, err := Merge([]string{""}, []*table.Table{a})
	require.NoError(t, err)
	got, name, ok := single.Single()
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, "source_0", name)

	multi, err := Merge([]string{"", ""}, []*table.Table{a, b})
	require.NoError(t, err)
	m, ok := multi.Multiple()
	require.True(t, ok)
	assert.Equal(t, []string{"source_0", "source_1"}, m.Names())

	_, err = Merge([]string{"a"}, nil)
	assert.Error(t, err)
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "a_b_c", sheetName("a[b]c", used))
	assert.Equal(t, "Sheet", sheetName("  ", used))
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	first := sheetName(long, used)
	assert.Len(t, first, 31)
	second := sheetName(long, used)
	assert.Len(t, second, 31)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "a_2", sheetName("a", map[string]bool{"a": true}))
}

func TestGenerateWritesAuditTrail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, logging.InitAudit(path))
	t.Cleanup(logging.CloseAudit)

	rep, err := New().Generate(context.Background(), TemplateRef{},
		sources(&stubSource{name: "sales", tbl: mustTable(t, []string{"v"}, []any{int64(1)})}), "json", nil)
	require.NoError(t, err)
	logging.CloseAudit()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"event":"report_started"`)
	assert.Contains(t, lines[1], `"event":"source_fetched"`)
	assert.Contains(t, lines[1], `"target":"sales"`)
	assert.Contains(t, lines[2], `"event":"report_generated"`)
	assert.Contains(t, lines[2], rep.ID())
	assert.Contains(t, lines[2], rep.Metadata().Checksum)
}

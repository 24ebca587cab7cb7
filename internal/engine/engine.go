// Package engine turns sources and a template into a Report: it fetches
// every source in order, merges the tables, and renders or exports them in
// the requested format.
package engine

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/datasource"
	"reportgen/internal/helpers"
	"reportgen/internal/logging"
	"reportgen/internal/render"
	"reportgen/internal/table"
	"reportgen/internal/validate"
)

// DataKey is the render parameter that carries the merged context. A caller
// parameter of the same name is replaced.
const DataKey = "data"

// TemplateRef names the template of a run: a compiled template, or a path
// compiled when the run needs it. The zero value means no template, which
// is fine for data formats.
type TemplateRef struct {
	tmpl *render.Template
	path string
}

// Compiled refers to an already compiled template.
func Compiled(t *render.Template) TemplateRef { return TemplateRef{tmpl: t} }

// TemplatePath refers to a template file.
func TemplatePath(path string) TemplateRef { return TemplateRef{path: path} }

// IsZero reports whether no template was given.
func (r TemplateRef) IsZero() bool { return r.tmpl == nil && r.path == "" }

func (r TemplateRef) String() string {
	switch {
	case r.tmpl != nil:
		return r.tmpl.Name()
	case r.path != "":
		return r.path
	}
	return "<none>"
}

// Engine generates reports. It is safe for concurrent use; each Generate
// call works on its own state.
type Engine struct {
	printer *render.Printer
	cache   *render.Cache
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrinter lowers PDF output through p instead of a per-run browser.
func WithPrinter(p *render.Printer) Option {
	return func(e *Engine) { e.printer = p }
}

// WithTemplateCache resolves template paths through c.
func WithTemplateCache(c *render.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate runs the whole pipeline. Sources are fetched sequentially in
// order; a single source yields its table as the merged context, several
// yield a mapping keyed by name (or source_<i> when unnamed, later names
// overwriting earlier ones). Any failure is returned as an
// *apperr.GenerationError carrying the report id.
func (e *Engine) Generate(ctx context.Context, tmpl TemplateRef, sources []datasource.Source, format string, params map[string]any) (*Report, error) {
	log := logging.Get(logging.CategoryEngine)
	id := helpers.GenerateID("rpt")
	start := e.now()
	requested := format
	format = strings.ToLower(strings.TrimSpace(format))

	log.Info("report generation started",
		zap.String("report_id", id),
		zap.Int("num_sources", len(sources)),
		zap.String("output_format", format),
		zap.Stringer("template", tmpl),
	)

	audit := logging.Audit(id)
	audit.ReportStarted(format, len(sources))

	content, keys, err := e.run(ctx, id, tmpl, sources, requested, params)
	elapsed := e.now().Sub(start)
	if err != nil {
		audit.ReportFinished(format, 0, "", helpers.Milliseconds(elapsed), err)
		log.Error("report generation failed",
			zap.String("report_id", id),
			zap.String("duration", helpers.FormatDuration(helpers.Milliseconds(elapsed))),
			zap.Error(err),
		)
		return nil, &apperr.GenerationError{ReportID: id, Cause: err}
	}

	report := NewReport(id, content, format, Metadata{
		Sources:          keys,
		GenerationTimeMS: helpers.Milliseconds(elapsed),
		CreatedAt:        start.UTC(),
	})
	audit.ReportFinished(format, report.Size(), report.Metadata().Checksum, helpers.Milliseconds(elapsed), nil)
	log.Info("report generation completed",
		zap.String("report_id", id),
		zap.String("duration", helpers.FormatDuration(helpers.Milliseconds(elapsed))),
		zap.Int("size_bytes", report.Size()),
	)
	return report, nil
}

// run dispatches on the normalized format; errors name the format exactly
// as requested.
func (e *Engine) run(ctx context.Context, id string, ref TemplateRef, sources []datasource.Source, requested string, params map[string]any) ([]byte, []string, error) {
	format := strings.ToLower(strings.TrimSpace(requested))
	if err := validate.OutputFormat(format); err != nil {
		return nil, nil, unsupportedFormat(requested)
	}
	textual := validate.NeedsTemplate(format)
	if textual && ref.IsZero() {
		return nil, nil, fmt.Errorf("%s output needs a template", format)
	}

	merged, keys, err := e.fetchAll(ctx, id, sources)
	if err != nil {
		return nil, nil, err
	}

	if !textual {
		content, err := export(merged, format)
		return content, keys, err
	}

	tmpl, err := e.resolve(ref)
	if err != nil {
		return nil, nil, err
	}
	vars := make(map[string]any, len(params)+1)
	maps.Copy(vars, params)
	vars[DataKey] = merged.TemplateValue()

	var content []byte
	switch format {
	case FormatHTML:
		out, err := tmpl.RenderHTML(vars)
		if err != nil {
			return nil, nil, err
		}
		content = []byte(out)
	case FormatMarkdown:
		out, err := tmpl.Render(vars)
		if err != nil {
			return nil, nil, err
		}
		content = []byte(out)
	case FormatPDF:
		if content, err = tmpl.RenderPDF(ctx, vars); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, unsupportedFormat(format)
	}
	return content, keys, nil
}

// fetchAll fetches the sources in order and merges them. keys holds the
// resolved key of every source, duplicates included.
func (e *Engine) fetchAll(ctx context.Context, id string, sources []datasource.Source) (MergedContext, []string, error) {
	log := logging.Get(logging.CategoryEngine)
	audit := logging.Audit(id)
	tables := NewTables()
	keys := make([]string, 0, len(sources))

	for i, src := range sources {
		key := SourceKey(src, i)
		log.Info("fetching source",
			zap.String("report_id", id),
			zap.String("source", key),
			zap.String("kind", string(src.Kind())),
		)
		fetchStart := e.now()
		t, err := src.Fetch(ctx)
		took := helpers.Milliseconds(e.now().Sub(fetchStart))
		if err != nil {
			audit.SourceFetched(key, string(src.Kind()), 0, took, err)
			return MergedContext{}, nil, err
		}
		audit.SourceFetched(key, string(src.Kind()), t.NumRows(), took, nil)
		if _, dup := tables.Get(key); dup {
			log.Warn("source key collision, later source wins",
				zap.String("report_id", id), zap.String("source", key))
		}
		tables.Set(key, t)
		keys = append(keys, key)
	}

	if len(sources) == 1 {
		t, _ := tables.Get(keys[0])
		return Single(keys[0], t), keys, nil
	}
	return Multiple(tables), keys, nil
}

// SourceKey is the merge key of the source at index i: its name, or
// source_<i> when it has none.
func SourceKey(src datasource.Source, i int) string {
	if name := src.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("source_%d", i)
}

// Merge builds the merged context for tables that were already fetched,
// keyed the way Generate keys sources.
func Merge(names []string, tables []*table.Table) (MergedContext, error) {
	if len(names) != len(tables) {
		return MergedContext{}, fmt.Errorf("merge: %d names for %d tables", len(names), len(tables))
	}
	m := NewTables()
	keys := make([]string, len(names))
	for i, n := range names {
		if n == "" {
			n = fmt.Sprintf("source_%d", i)
		}
		keys[i] = n
		m.Set(n, tables[i])
	}
	if len(tables) == 1 {
		return Single(keys[0], tables[0]), nil
	}
	return Multiple(m), nil
}

func (e *Engine) resolve(ref TemplateRef) (*render.Template, error) {
	t := ref.tmpl
	if t == nil {
		var err error
		if e.cache != nil {
			t, err = e.cache.Get(ref.path)
		} else {
			t, err = render.New(render.Options{Path: ref.path, Printer: e.printer})
		}
		if err != nil {
			return nil, err
		}
	}
	if e.printer != nil {
		t = t.WithPrinter(e.printer)
	}
	return t, nil
}

func export(c MergedContext, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return ExportJSON(c)
	case FormatExcel:
		return ExportExcel(c)
	case FormatCSV:
		return ExportCSV(c)
	case FormatParquet:
		return ExportParquet(c)
	}
	return nil, unsupportedFormat(format)
}

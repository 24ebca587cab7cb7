// Package render compiles report templates in a sandboxed pongo2 set and
// turns their output into HTML or PDF.
//
// Templates can read only the context they are given. Tags that reach the
// filesystem (include, extends, import, ssi) are banned, and so is every
// construct that switches off autoescaping.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/logging"
)

// inlineName labels templates that were not loaded from a file.
const inlineName = "<inline>"

var (
	bannedTags    = []string{"include", "extends", "import", "ssi", "autoescape", "filter"}
	bannedFilters = []string{"safe", "truncatechars_html", "truncatewords_html"}
)

var (
	sandboxOnce sync.Once
	sandboxSet  *pongo2.TemplateSet
	sandboxErr  error
	// compileMu serializes compilation; pongo2 marks the set on every
	// template it creates.
	compileMu sync.Mutex
)

// denyLoader refuses every lookup, so nothing outside the template text is
// reachable even if a banned tag slipped through.
type denyLoader struct{}

func (denyLoader) Abs(base, name string) string { return name }

func (denyLoader) Get(path string) (io.Reader, error) {
	return nil, fmt.Errorf("template loading is disabled (%s)", path)
}

func sandbox() (*pongo2.TemplateSet, error) {
	sandboxOnce.Do(func() {
		set := pongo2.NewSet("reportgen-sandbox", denyLoader{})
		for _, tag := range bannedTags {
			if err := set.BanTag(tag); err != nil {
				sandboxErr = fmt.Errorf("ban tag %s: %w", tag, err)
				return
			}
		}
		for _, filter := range bannedFilters {
			if err := set.BanFilter(filter); err != nil {
				sandboxErr = fmt.Errorf("ban filter %s: %w", filter, err)
				return
			}
		}
		sandboxSet = set
	})
	return sandboxSet, sandboxErr
}

// Options configures New.
type Options struct {
	// Text is the template source. It wins over Path when both are set.
	Text string
	// Path names a template file, read once at construction.
	Path string
	// Markdown marks the output as markdown to be converted for HTML and PDF
	// output. Files ending in .md or .markdown are always markdown.
	Markdown bool
	// Printer lowers HTML to PDF. Nil means RenderPDF starts a browser for
	// the call and stops it afterwards.
	Printer *Printer
}

// Template is a compiled report template. It holds no render state and may
// be rendered concurrently.
type Template struct {
	name     string
	source   string
	markdown bool
	printer  *Printer
	tpl      *pongo2.Template
}

// New compiles a template. Syntax errors are reported here as
// *apperr.TemplateError, never at render time.
func New(opts Options) (*Template, error) {
	log := logging.Get(logging.CategoryRender)

	text, name := opts.Text, inlineName
	switch {
	case opts.Text != "":
		if opts.Path != "" {
			name = opts.Path
		}
	case opts.Path != "":
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			log.Error("cannot read template", zap.String("path", opts.Path), zap.Error(err))
			return nil, &apperr.TemplateError{Path: opts.Path, Message: "cannot read template", Cause: err}
		}
		text, name = string(data), opts.Path
	default:
		return nil, &apperr.TemplateError{Path: inlineName, Message: "either template text or a template path is required"}
	}

	set, err := sandbox()
	if err != nil {
		return nil, &apperr.TemplateError{Path: name, Message: "template sandbox unavailable", Cause: err}
	}

	compileMu.Lock()
	tpl, err := set.FromString(text)
	compileMu.Unlock()
	if err != nil {
		log.Error("template syntax error", zap.String("path", name), zap.Error(err))
		return nil, &apperr.TemplateError{Path: name, Message: "syntax error", Cause: err}
	}

	log.Debug("template compiled", zap.String("path", name), zap.Int("bytes", len(text)))
	return &Template{
		name:     name,
		source:   text,
		markdown: opts.Markdown || isMarkdownPath(opts.Path),
		printer:  opts.Printer,
		tpl:      tpl,
	}, nil
}

// FromString compiles inline template text.
func FromString(text string) (*Template, error) {
	if text == "" {
		return nil, &apperr.TemplateError{Path: inlineName, Message: "template text is empty"}
	}
	return New(Options{Text: text})
}

// FromFile reads and compiles a template file.
func FromFile(path string) (*Template, error) {
	if path == "" {
		return nil, &apperr.TemplateError{Path: inlineName, Message: "template path is empty"}
	}
	return New(Options{Path: path})
}

func isMarkdownPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// Name is the template path, or "<inline>".
func (t *Template) Name() string { return t.name }

// Source returns the template text.
func (t *Template) Source() string { return t.source }

// IsMarkdown reports whether output is converted from markdown for HTML.
func (t *Template) IsMarkdown() bool { return t.markdown }

// WithPrinter returns a copy of t that lowers PDFs through p.
func (t *Template) WithPrinter(p *Printer) *Template {
	c := *t
	c.printer = p
	return &c
}

// Render executes the template. Variables the template references but the
// context lacks render as empty strings.
func (t *Template) Render(vars map[string]any) (string, error) {
	ctx := make(pongo2.Context, len(vars))
	for k, v := range vars {
		ctx[k] = v
	}
	out, err := t.tpl.Execute(ctx)
	if err != nil {
		logging.Get(logging.CategoryRender).Error("template execution failed",
			zap.String("path", t.name), zap.Error(err))
		return "", &apperr.RenderError{Format: "text", Message: fmt.Sprintf("executing %s", t.name), Cause: err}
	}
	return out, nil
}

// RenderHTML renders and, for markdown templates, converts the result to
// HTML.
func (t *Template) RenderHTML(vars map[string]any) (string, error) {
	out, err := t.Render(vars)
	if err != nil {
		return "", err
	}
	if !t.markdown {
		return out, nil
	}
	html, err := MarkdownToHTML(out)
	if err != nil {
		return "", &apperr.RenderError{Format: "html", Message: "markdown conversion failed", Cause: err}
	}
	return html, nil
}

// RenderPDF renders to HTML and prints it with headless Chrome. When no
// browser is installed the error wraps apperr.ErrCapabilityUnavailable.
func (t *Template) RenderPDF(ctx context.Context, vars map[string]any) ([]byte, error) {
	html, err := t.RenderHTML(vars)
	if err != nil {
		return nil, err
	}
	doc, err := Document(html)
	if err != nil {
		return nil, &apperr.RenderError{Format: "pdf", Message: "cannot build html document", Cause: err}
	}

	p := t.printer
	if p == nil {
		p = NewPrinter(PrinterConfig{})
		defer func() {
			if err := p.Shutdown(); err != nil {
				logging.Get(logging.CategoryRender).Warn("browser shutdown failed", zap.Error(err))
			}
		}()
	}
	return p.Print(ctx, doc)
}

// IsCapabilityUnavailable reports whether err means a rendering backend is
// missing rather than a template failure.
func IsCapabilityUnavailable(err error) bool {
	return errors.Is(err, apperr.ErrCapabilityUnavailable)
}

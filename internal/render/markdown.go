package render

import (
	"bytes"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// The converter is built once; goldmark keeps per-call state out of it.
var (
	markdownOnce sync.Once
	markdownConv goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		// Raw HTML stays disabled: anything that was escaped by the template
		// stays escaped, and dangerous link schemes are dropped.
		markdownConv = goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.DefinitionList,
			),
		)
	})
	return markdownConv
}

// MarkdownToHTML converts rendered markdown to an HTML fragment. Tables,
// strikethrough and task lists follow GitHub's dialect.
func MarkdownToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown().Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

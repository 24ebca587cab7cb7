package engine

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"reportgen/internal/apperr"
	"reportgen/internal/table"
)

// Output formats.
const (
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatJSON     = "json"
	FormatExcel    = "excel"
	FormatCSV      = "csv"
	FormatParquet  = "parquet"
	FormatMarkdown = "markdown"
)

type formatInfo struct {
	contentType string
	extension   string
}

var formats = map[string]formatInfo{
	FormatHTML:     {"text/html; charset=utf-8", ".html"},
	FormatPDF:      {"application/pdf", ".pdf"},
	FormatJSON:     {"application/json", ".json"},
	FormatExcel:    {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
	FormatCSV:      {"text/csv; charset=utf-8", ".csv"},
	FormatParquet:  {"application/vnd.apache.parquet", ".parquet"},
	FormatMarkdown: {"text/markdown; charset=utf-8", ".md"},
}

// ContentType returns the MIME type for format, or
// application/octet-stream.
func ContentType(format string) string {
	if f, ok := formats[format]; ok {
		return f.contentType
	}
	return "application/octet-stream"
}

// Extension returns the file extension for format, including the dot.
func Extension(format string) string {
	if f, ok := formats[format]; ok {
		return f.extension
	}
	return "." + format
}

func unsupportedFormat(format string) error {
	return fmt.Errorf("%w %q (supported: html, pdf, json, excel, csv, parquet, markdown)",
		apperr.ErrUnsupportedFormat, format)
}

// ExportJSON serializes the context without a template. Output is indented
// with two spaces.
func ExportJSON(c MergedContext) ([]byte, error) {
	raw, err := c.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ExportExcel writes one sheet per table, named after the source key.
func ExportExcel(c MergedContext) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	used := make(map[string]bool)
	first := true
	var err error
	c.Each(func(name string, t *table.Table) {
		if err != nil {
			return
		}
		sheet := sheetName(name, used)
		if first {
			err = f.SetSheetName("Sheet1", sheet)
			first = false
		} else {
			_, err = f.NewSheet(sheet)
		}
		if err != nil {
			err = fmt.Errorf("sheet %q: %w", sheet, err)
			return
		}
		err = writeSheet(f, sheet, t)
	})
	if err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, t *table.Table) error {
	header := make([]any, t.NumColumns())
	for i, n := range t.ColumnNames() {
		header[i] = n
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r := 0; r < t.NumRows(); r++ {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		row := t.Row(r)
		for i, v := range row {
			if v == nil {
				row[i] = ""
			}
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %q row %d: %w", sheet, r+1, err)
		}
	}
	return nil
}

// sheetName makes name a legal, unique worksheet name: at most 31
// characters, none of []:*?/\ and not blank.
func sheetName(name string, used map[string]bool) string {
	s := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, name)
	s = strings.Trim(s, "'")
	if strings.TrimSpace(s) == "" {
		s = "Sheet"
	}
	s = truncateRunes(s, 31)

	base, candidate := s, s
	for i := 2; used[strings.ToLower(candidate)]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		candidate = truncateRunes(base, 31-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func singleTable(c MergedContext, format string) (*table.Table, error) {
	t, _, ok := c.Single()
	if !ok {
		return nil, fmt.Errorf("%s output needs exactly one source, got %d", format, c.Len())
	}
	return t, nil
}

// ExportCSV writes the single table with a header row. Timestamps use
// RFC 3339 and nulls are empty fields.
func ExportCSV(c MergedContext) ([]byte, error) {
	t, err := singleTable(c, FormatCSV)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.ColumnNames()); err != nil {
		return nil, err
	}
	record := make([]string, t.NumColumns())
	for r := 0; r < t.NumRows(); r++ {
		for c := range record {
			record[c] = table.Stringify(t.Cell(r, c))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportParquet writes the single table as snappy-compressed parquet.
func ExportParquet(c MergedContext) ([]byte, error) {
	t, err := singleTable(c, FormatParquet)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.WriteParquet(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

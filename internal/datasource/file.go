package datasource

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/table"
)

// fileFormat is the decoder chosen from a file extension.
type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatCSV
	formatTSV
	formatExcel
	formatJSON
	formatJSONLines
	formatParquet
)

func (f fileFormat) String() string {
	switch f {
	case formatCSV:
		return "csv"
	case formatTSV:
		return "tsv"
	case formatExcel:
		return "excel"
	case formatJSON:
		return "json"
	case formatJSONLines:
		return "jsonl"
	case formatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// SupportedExtensions lists the file extensions a FileSource can read.
var SupportedExtensions = []string{".csv", ".tsv", ".xlsx", ".xlsm", ".json", ".jsonl", ".ndjson", ".parquet"}

func detectFormat(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return formatCSV
	case ".tsv":
		return formatTSV
	case ".xlsx", ".xlsm":
		return formatExcel
	case ".json":
		return formatJSON
	case ".jsonl", ".ndjson":
		return formatJSONLines
	case ".parquet":
		return formatParquet
	default:
		return formatUnknown
	}
}

// FileConfig configures a FileSource.
type FileConfig struct {
	Path string
	// Delimiter separates fields in delimited text; zero means ',' for .csv
	// and tab for .tsv.
	Delimiter rune
	// Sheet selects a spreadsheet sheet by name or zero-based index; empty
	// means the first sheet.
	Sheet string
}

// FileSource reads a local data file, choosing the decoder by extension.
type FileSource struct {
	name string
	cfg  FileConfig
}

// NewFileSource fails when the file does not exist, before any fetch.
func NewFileSource(name string, cfg FileConfig) (*FileSource, error) {
	log := sourceLogger(name, KindFile)
	info, err := os.Stat(cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fail(log, KindFile, name, fmt.Sprintf("file not found: %s", cfg.Path), nil)
		}
		return nil, fail(log, KindFile, name, "cannot access file", err)
	}
	if info.IsDir() {
		return nil, fail(log, KindFile, name, fmt.Sprintf("%s is a directory", cfg.Path), nil)
	}
	return &FileSource{name: name, cfg: cfg}, nil
}

func (s *FileSource) Name() string   { return s.name }
func (s *FileSource) Kind() Kind     { return KindFile }
func (s *FileSource) Target() string { return s.cfg.Path }

// Fetch decodes the whole file.
func (s *FileSource) Fetch(ctx context.Context) (*table.Table, error) {
	log := sourceLogger(s.name, KindFile)
	format := detectFormat(s.cfg.Path)
	log.Info("fetching data", zap.String("path", s.cfg.Path), zap.Stringer("format", format))

	if format == formatUnknown {
		return nil, s.unsupported(log)
	}

	var (
		t   *table.Table
		err error
	)
	switch format {
	case formatCSV, formatTSV:
		t, err = s.readDelimited(format)
	case formatExcel:
		t, err = s.readExcel()
	case formatJSON:
		t, err = s.readJSON()
	case formatJSONLines:
		t, err = s.readJSONLines()
	case formatParquet:
		t, err = s.readParquet(ctx)
	}
	if err != nil {
		return nil, fail(log, KindFile, s.name, fmt.Sprintf("failed to read %s file", format), err)
	}
	logFetched(log, s.cfg.Path, t)
	return t, nil
}

func (s *FileSource) unsupported(log *zap.Logger) error {
	ext := filepath.Ext(s.cfg.Path)
	return fail(log, KindFile, s.name,
		fmt.Sprintf("%q (supported: %s)", ext, strings.Join(SupportedExtensions, ", ")),
		apperr.ErrUnsupportedFileFormat)
}

// TestConnection re-checks that the file exists and reads its header or
// first record.
func (s *FileSource) TestConnection(ctx context.Context) (bool, error) {
	log := sourceLogger(s.name, KindFile)
	if _, err := os.Stat(s.cfg.Path); err != nil {
		return false, fail(log, KindFile, s.name, "connection test failed", err)
	}

	var err error
	switch format := detectFormat(s.cfg.Path); format {
	case formatUnknown:
		return false, s.unsupported(log)
	case formatCSV, formatTSV:
		err = s.probeDelimited(format)
	case formatExcel:
		err = s.probeExcel()
	case formatJSON, formatJSONLines:
		err = s.probeJSON()
	case formatParquet:
		err = s.probeParquet()
	}
	if err != nil {
		return false, fail(log, KindFile, s.name, "connection test failed", err)
	}
	log.Info("connection test passed")
	return true, nil
}

func (s *FileSource) delimiter(format fileFormat) rune {
	if s.cfg.Delimiter != 0 {
		return s.cfg.Delimiter
	}
	if format == formatTSV {
		return '\t'
	}
	return ','
}

func (s *FileSource) csvReader(r io.Reader, format fileFormat) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = s.delimiter(format)
	cr.FieldsPerRecord = -1
	return cr
}

func (s *FileSource) readDelimited(format fileFormat) (*table.Table, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := s.csvReader(f, format).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return table.Empty(), nil
	}
	header := records[0]
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	return table.FromStrings(header, records[1:])
}

func (s *FileSource) probeDelimited(format fileFormat) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := s.csvReader(f, format).Read(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *FileSource) openSheet() (*excelize.File, string, error) {
	f, err := excelize.OpenFile(s.cfg.Path)
	if err != nil {
		return nil, "", err
	}
	sheets := f.GetSheetList()
	sheet, err := pickSheet(sheets, s.cfg.Sheet)
	if err != nil {
		_ = f.Close()
		return nil, "", err
	}
	return f, sheet, nil
}

func pickSheet(sheets []string, want string) (string, error) {
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	if want == "" {
		return sheets[0], nil
	}
	for _, name := range sheets {
		if name == want {
			return name, nil
		}
	}
	if idx, err := strconv.Atoi(want); err == nil {
		if idx >= 0 && idx < len(sheets) {
			return sheets[idx], nil
		}
		return "", fmt.Errorf("sheet index %d out of range (workbook has %d sheets)", idx, len(sheets))
	}
	return "", fmt.Errorf("sheet %q not found (available: %s)", want, strings.Join(sheets, ", "))
}

func (s *FileSource) readExcel() (*table.Table, error) {
	f, sheet, err := s.openSheet()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return table.Empty(), nil
	}
	return table.FromStrings(rows[0], rows[1:])
}

func (s *FileSource) probeExcel() error {
	f, _, err := s.openSheet()
	if err != nil {
		return err
	}
	return f.Close()
}

// readJSON accepts a single document (array of records, or an object) and
// falls back to JSON lines when the file holds several documents.
func (s *FileSource) readJSON() (*table.Table, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return table.Empty(), nil
	}
	doc, err := table.DecodeJSON(data)
	if err != nil {
		values, lerr := table.DecodeJSONLines(bytes.NewReader(data))
		if lerr != nil {
			return nil, err
		}
		return table.FromJSONValues(values)
	}
	rows, err := responseRows(doc)
	if err != nil {
		return nil, err
	}
	return table.FromJSONValues(rows)
}

func (s *FileSource) readJSONLines() (*table.Table, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	values, err := table.DecodeJSONLines(f)
	if err != nil {
		return nil, err
	}
	return table.FromJSONValues(values)
}

func (s *FileSource) probeJSON() error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := json.NewDecoder(f).Token(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *FileSource) readParquet(ctx context.Context) (*table.Table, error) {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.ReadParquet(ctx, f)
}

func (s *FileSource) probeParquet() error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	pf, err := file.NewParquetReader(f)
	if err != nil {
		return err
	}
	return pf.Close()
}

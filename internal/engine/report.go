package engine

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/logging"
)

// Metadata describes how a report was produced.
type Metadata struct {
	ReportID         string    `json:"report_id"`
	Sources          []string  `json:"sources"`
	OutputFormat     string    `json:"output_format"`
	GenerationTimeMS float64   `json:"generation_time_ms"`
	SizeBytes        int       `json:"size_bytes"`
	Checksum         string    `json:"checksum"`
	CreatedAt        time.Time `json:"created_at"`
}

// Report is the immutable result of one generation run.
type Report struct {
	id       string
	content  []byte
	format   string
	metadata Metadata
}

// NewReport wraps content. The bytes are copied; size and checksum in the
// metadata are derived from them.
func NewReport(id string, content []byte, format string, md Metadata) *Report {
	c := append([]byte(nil), content...)
	md.ReportID = id
	md.OutputFormat = format
	md.SizeBytes = len(c)
	md.Checksum = Checksum(c)
	md.Sources = append([]string(nil), md.Sources...)
	return &Report{id: id, content: c, format: format, metadata: md}
}

// Checksum returns the hex BLAKE3-256 digest of content.
func Checksum(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ID returns the report identifier.
func (r *Report) ID() string { return r.id }

// Format returns the output format.
func (r *Report) Format() string { return r.format }

// Content returns a copy of the report bytes.
func (r *Report) Content() []byte { return append([]byte(nil), r.content...) }

// Size returns the content length in bytes.
func (r *Report) Size() int { return len(r.content) }

// Metadata returns a copy of the metadata.
func (r *Report) Metadata() Metadata {
	md := r.metadata
	md.Sources = append([]string(nil), md.Sources...)
	return md
}

// ContentType returns the MIME type of the content.
func (r *Report) ContentType() string { return ContentType(r.format) }

// Filename suggests a file name: the id plus the format's extension.
func (r *Report) Filename() string { return r.id + Extension(r.format) }

// Save writes the content to path, creating parent directories and
// replacing any existing file.
func (r *Report) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, r.content, 0644); err != nil {
		return fmt.Errorf("write report %s: %w", r.id, err)
	}
	logging.Get(logging.CategoryReport).Info("report saved",
		zap.String("report_id", r.id),
		zap.String("path", path),
		zap.Int("size_bytes", len(r.content)),
	)
	return nil
}

// Email would send the report to a recipient. Not implemented.
func (r *Report) Email(to, subject, body string) error {
	logging.Get(logging.CategoryReport).Info("email delivery requested",
		zap.String("report_id", r.id), zap.String("to", to))
	return &apperr.DeliveryError{Method: "email", Cause: apperr.ErrNotSupported}
}

// UploadToS3 would store the report in a bucket. Not implemented.
func (r *Report) UploadToS3(bucket, key string) error {
	logging.Get(logging.CategoryReport).Info("s3 upload requested",
		zap.String("report_id", r.id), zap.String("bucket", bucket), zap.String("key", key))
	return &apperr.DeliveryError{Method: "s3", Cause: apperr.ErrNotSupported}
}

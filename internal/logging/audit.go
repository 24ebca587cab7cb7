package logging

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditEventType names one kind of audit record.
type AuditEventType string

const (
	AuditReportStarted   AuditEventType = "report_started"
	AuditReportGenerated AuditEventType = "report_generated"
	AuditReportFailed    AuditEventType = "report_failed"
	AuditSourceFetched   AuditEventType = "source_fetched"
	AuditSourceFailed    AuditEventType = "source_failed"
	AuditReportSaved     AuditEventType = "report_saved"
	AuditDeliverySkipped AuditEventType = "delivery_skipped"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Time       time.Time
	Event      AuditEventType
	ReportID   string
	Target     string // source key, output path or delivery target
	Success    bool
	DurationMS float64
	Error      string
	Fields     []zap.Field
}

var (
	auditMu     sync.Mutex
	auditSink   *zap.Logger
	auditCloser func()
)

// AuditLogger writes audit events for one report run.
type AuditLogger struct {
	reportID string
}

// InitAudit opens the audit trail at path, one JSON object per line.
// Calling it again replaces the previous trail. An empty path disables
// auditing.
func InitAudit(path string) error {
	auditMu.Lock()
	defer auditMu.Unlock()
	closeAuditLocked()
	if path == "" {
		return nil
	}

	ws, closeFn, err := zap.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	auditSink = zap.New(zapcore.NewCore(enc, ws, zapcore.DebugLevel))
	auditCloser = closeFn
	return nil
}

// CloseAudit flushes and closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	closeAuditLocked()
}

func closeAuditLocked() {
	if auditSink == nil {
		return
	}
	_ = auditSink.Sync()
	auditCloser()
	auditSink, auditCloser = nil, nil
}

// AuditEnabled reports whether an audit trail is open.
func AuditEnabled() bool {
	auditMu.Lock()
	defer auditMu.Unlock()
	return auditSink != nil
}

// Audit returns an audit logger scoped to a report id.
func Audit(reportID string) *AuditLogger {
	return &AuditLogger{reportID: reportID}
}

// Log writes e. It is a no-op while no trail is open.
func (a *AuditLogger) Log(e AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditSink == nil {
		return
	}
	if e.ReportID == "" {
		e.ReportID = a.reportID
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	fields := make([]zap.Field, 0, 6+len(e.Fields))
	fields = append(fields,
		zap.String("report_id", e.ReportID),
		zap.Bool("success", e.Success),
	)
	if e.Target != "" {
		fields = append(fields, zap.String("target", e.Target))
	}
	if e.DurationMS > 0 {
		fields = append(fields, zap.Float64("duration_ms", e.DurationMS))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	fields = append(fields, e.Fields...)

	if ce := auditSink.Check(zapcore.InfoLevel, string(e.Event)); ce != nil {
		ce.Time = e.Time
		ce.Write(fields...)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ReportStarted records the start of a run.
func (a *AuditLogger) ReportStarted(format string, numSources int) {
	a.Log(AuditEvent{Event: AuditReportStarted, Success: true, Fields: []zap.Field{
		zap.String("format", format),
		zap.Int("num_sources", numSources),
	}})
}

// SourceFetched records one source fetch.
func (a *AuditLogger) SourceFetched(key, kind string, rows int, durationMS float64, err error) {
	event := AuditSourceFetched
	if err != nil {
		event = AuditSourceFailed
	}
	a.Log(AuditEvent{
		Event:      event,
		Target:     key,
		Success:    err == nil,
		DurationMS: durationMS,
		Error:      errString(err),
		Fields:     []zap.Field{zap.String("kind", kind), zap.Int("rows", rows)},
	})
}

// ReportFinished records the outcome of a run.
func (a *AuditLogger) ReportFinished(format string, size int, checksum string, durationMS float64, err error) {
	if err != nil {
		a.Log(AuditEvent{Event: AuditReportFailed, DurationMS: durationMS, Error: err.Error(),
			Fields: []zap.Field{zap.String("format", format)}})
		return
	}
	a.Log(AuditEvent{Event: AuditReportGenerated, Success: true, DurationMS: durationMS, Fields: []zap.Field{
		zap.String("format", format),
		zap.Int("size_bytes", size),
		zap.String("checksum", checksum),
	}})
}

// ReportSaved records a write of the report bytes.
func (a *AuditLogger) ReportSaved(path string, size int, err error) {
	a.Log(AuditEvent{Event: AuditReportSaved, Target: path, Success: err == nil, Error: errString(err),
		Fields: []zap.Field{zap.Int("size_bytes", size)}})
}

// DeliverySkipped records a delivery target that was not served.
func (a *AuditLogger) DeliverySkipped(method, target string, err error) {
	a.Log(AuditEvent{Event: AuditDeliverySkipped, Target: target, Error: errString(err),
		Fields: []zap.Field{zap.String("method", method)}})
}

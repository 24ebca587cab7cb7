package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/config"
	"reportgen/internal/datasource"
	"reportgen/internal/engine"
	"reportgen/internal/helpers"
	"reportgen/internal/render"
)

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error    string `json:"error"`
	ReportID string `json:"report_id,omitempty"`
}

// probeResponse is the body of /api/v1/sources/test.
type probeResponse struct {
	OK      bool                     `json:"ok"`
	Results []datasource.ProbeResult `json:"results"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGenerate accepts a report configuration, either bare or under a
// "report" key next to an "options" object. options.format and the
// ?format= query parameter override output_format.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		s.sendError(w, http.StatusBadRequest, "", "body must be a JSON object")
		return
	}
	doc := raw
	if inner, ok := helpers.SafeGet(raw, "report", nil).(map[string]any); ok {
		doc = inner
	}
	format := helpers.SafeGetString(raw, "options.format", "")
	if f := r.URL.Query().Get("format"); f != "" {
		format = f
	}
	if format != "" {
		doc["output_format"] = format
	}
	data, err := json.Marshal(doc)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "", "invalid report object: %v", err)
		return
	}

	rc, err := config.ParseReport(data, "request body")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "", "%v", err)
		return
	}

	ref, err := s.templateRef(rc)
	if err != nil {
		s.sendError(w, statusFor(err), "", "%v", err)
		return
	}

	sources, err := datasource.FromConfigs(rc.Sources, s.cfg.Sources)
	if err != nil {
		s.sendError(w, statusFor(err), "", "%v", err)
		return
	}
	defer datasource.CloseAll(sources)

	report, err := s.engine.Generate(r.Context(), ref, sources, rc.OutputFormat, rc.Parameters)
	if err != nil {
		var ge *apperr.GenerationError
		id := ""
		if errors.As(err, &ge) {
			id = ge.ReportID
		}
		s.sendError(w, statusFor(err), id, "%v", err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename()))
	w.Header().Set("X-Report-ID", report.ID())
	w.Header().Set("X-Report-Checksum", report.Metadata().Checksum)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report.Content()); err != nil {
		s.log.Warn("writing report response", zap.String("report_id", report.ID()), zap.Error(err))
	}
}

// handleTestSources probes {"sources": [...]} concurrently. The answer is
// 200 whenever the body is valid; individual failures are in the results.
func (s *Server) handleTestSources(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Sources []config.SourceConfig `json:"sources"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "", "invalid JSON body: %v", err)
		return
	}
	if len(req.Sources) == 0 {
		s.sendError(w, http.StatusBadRequest, "", "at least one source is required")
		return
	}
	for i, sc := range req.Sources {
		if err := sc.Validate(); err != nil {
			s.sendError(w, http.StatusBadRequest, "", "sources[%d]: %v", i, err)
			return
		}
	}

	sources, err := datasource.FromConfigs(req.Sources, s.cfg.Sources)
	if err != nil {
		s.sendError(w, statusFor(err), "", "%v", err)
		return
	}
	defer datasource.CloseAll(sources)

	results := datasource.ProbeAll(r.Context(), sources, s.cfg.ProbeLimit)
	resp := probeResponse{OK: true, Results: results}
	for _, res := range results {
		if !res.OK {
			resp.OK = false
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// templateRef picks the inline template, or a file under TemplateDir.
func (s *Server) templateRef(rc *config.ReportConfig) (engine.TemplateRef, error) {
	if rc.InlineTemplate != "" {
		t, err := render.FromString(rc.InlineTemplate)
		if err != nil {
			return engine.TemplateRef{}, err
		}
		return engine.Compiled(t), nil
	}
	if rc.Template == "" {
		return engine.TemplateRef{}, nil
	}
	path, err := s.templatePath(rc.Template)
	if err != nil {
		return engine.TemplateRef{}, err
	}
	return engine.TemplatePath(path), nil
}

func (s *Server) templatePath(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &apperr.ValidationError{Field: "template", Value: name, Message: "must be a path inside the template directory"}
	}
	return filepath.Join(s.cfg.TemplateDir, clean), nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "", "request body exceeds %d bytes", tooLarge.Limit)
			return nil, false
		}
		s.sendError(w, http.StatusBadRequest, "", "failed to read request body: %v", err)
		return nil, false
	}
	return body, true
}

// statusFor maps an error chain onto an HTTP status.
func statusFor(err error) int {
	var (
		cfgErr  *apperr.ConfigurationError
		valErr  *apperr.ValidationError
		tmplErr *apperr.TemplateError
		srcErr  *apperr.DataSourceError
	)
	switch {
	case errors.Is(err, apperr.ErrUnsupportedFormat),
		errors.As(err, &cfgErr),
		errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &tmplErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrCapabilityUnavailable):
		return http.StatusNotImplemented
	case errors.As(err, &srcErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) sendError(w http.ResponseWriter, status int, reportID, format string, args ...any) {
	s.writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...), ReportID: reportID})
}

// writeJSON encodes value as the response body. Encoding failures are only
// logged; the client is usually gone by then.
func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.log.Warn("writing JSON response", zap.Int("status", status), zap.Error(err))
	}
}

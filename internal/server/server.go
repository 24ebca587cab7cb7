// Package server exposes report generation over HTTP.
//
//	GET  /healthz               liveness
//	POST /api/v1/reports        report configuration in, report bytes out
//	POST /api/v1/sources/test   connection probes for a list of sources
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportgen/internal/datasource"
	"reportgen/internal/engine"
	"reportgen/internal/logging"
)

// Defaults for Config fields left zero.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBodyBytes    = 4 << 20
	DefaultProbeLimit      = 8
)

// Config configures a Server.
type Config struct {
	Addr string
	// APIKey, when set, must be presented as "Authorization: Bearer <key>"
	// on every /api route.
	APIKey string
	// TemplateDir anchors template paths named in report configurations.
	// Paths may not leave it.
	TemplateDir string
	// DataDir confines file sources and SQLite databases named in requests.
	// Empty means the working directory.
	DataDir string
	// Sources carries connector defaults into every request.
	Sources datasource.Options

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	ProbeLimit   int
}

// Server serves the report API.
type Server struct {
	cfg     Config
	engine  *engine.Engine
	handler http.Handler
	log     *zap.Logger
}

// New creates a server that generates reports with eng.
func New(cfg Config, eng *engine.Engine) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = DefaultProbeLimit
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	cfg.Sources.DataDir = cfg.DataDir

	s := &Server{
		cfg:    cfg,
		engine: eng,
		log:    logging.Get(logging.CategoryServer),
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/reports", s.handleGenerate)
	api.HandleFunc("POST /api/v1/sources/test", s.handleTestSources)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("/api/", s.requireKey(api))

	s.handler = s.logRequests(mux)
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("server started", zap.String("addr", ln.Addr().String()), zap.Bool("auth", s.cfg.APIKey != ""))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	s.log.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requireKey(next http.Handler) http.Handler {
	if s.cfg.APIKey == "" {
		return next
	}
	want := []byte(s.cfg.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="reportgen"`)
			s.sendError(w, http.StatusUnauthorized, "", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

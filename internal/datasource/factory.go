package datasource

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"reportgen/internal/apperr"
	"reportgen/internal/config"
)

// FromDatabase builds a query source. An empty name becomes "database".
func FromDatabase(connString, query, name string) (*QuerySource, error) {
	if name == "" {
		name = "database"
	}
	return NewQuerySource(name, QueryConfig{Connection: connString, Query: query})
}

// FromAPI builds a request source. An empty name becomes "api".
func FromAPI(url, method, authToken string, headers map[string]string, name string) (*RequestSource, error) {
	if name == "" {
		name = "api"
	}
	return NewRequestSource(name, RequestConfig{
		URL:       url,
		Method:    method,
		AuthToken: authToken,
		Headers:   headers,
	})
}

// FromFile builds a file source. An empty name becomes "file".
func FromFile(path, name string) (*FileSource, error) {
	if name == "" {
		name = "file"
	}
	return NewFileSource(name, FileConfig{Path: path})
}

// Options carries application-level defaults into FromConfig.
type Options struct {
	// DefaultConnection is used by query sources that name no connection.
	DefaultConnection string
	// BaseDir anchors relative file paths, usually the report file's directory.
	BaseDir string
	// DataDir, when set, confines file paths and SQLite databases named by
	// source configurations to that directory. Relative paths resolve
	// against it. DefaultConnection is trusted and not checked.
	DataDir string

	HTTPTimeout  time.Duration
	ProbeTimeout time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	MaxOpenConns int
}

// OptionsFromConfig maps application settings onto Options.
func OptionsFromConfig(c *config.Config) Options {
	retries := c.HTTP.RetryMax
	if retries == 0 {
		retries = -1
	}
	return Options{
		DefaultConnection: c.Database.URL,
		HTTPTimeout:       c.GetHTTPTimeout(),
		ProbeTimeout:      c.GetProbeTimeout(),
		RetryMax:          retries,
		RetryWaitMin:      c.GetRetryWaitMin(),
		RetryWaitMax:      c.GetRetryWaitMax(),
		MaxOpenConns:      c.Database.MaxOpenConns,
	}
}

// FromConfig builds the source described by sc. Names are kept as given so
// that unnamed sources fall back to positional keys when merged.
func FromConfig(sc config.SourceConfig, opts Options) (Source, error) {
	switch sc.Kind() {
	case config.SourceQuery:
		conn := sc.Connection
		if conn == "" {
			conn = opts.DefaultConnection
		} else if opts.DataDir != "" {
			confined, err := confineConnection(opts.DataDir, conn)
			if err != nil {
				return nil, err
			}
			conn = confined
		}
		return NewQuerySource(sc.Name, QueryConfig{
			Connection:   conn,
			Query:        sc.Query,
			Args:         sc.Args,
			MaxOpenConns: opts.MaxOpenConns,
		})

	case config.SourceRequest:
		timeout := opts.HTTPTimeout
		if sc.Timeout != "" {
			d, err := time.ParseDuration(sc.Timeout)
			if err != nil {
				return nil, apperr.NewDataSourceError(KindRequest, sc.Name, "invalid timeout", err)
			}
			timeout = d
		}
		return NewRequestSource(sc.Name, RequestConfig{
			URL:          sc.URL,
			Method:       sc.Method,
			AuthToken:    sc.AuthToken,
			Headers:      sc.Headers,
			Params:       sc.Params,
			Body:         sc.Body,
			Timeout:      timeout,
			ProbeTimeout: opts.ProbeTimeout,
			RetryMax:     opts.RetryMax,
			RetryWaitMin: opts.RetryWaitMin,
			RetryWaitMax: opts.RetryWaitMax,
		})

	case config.SourceFile:
		path := sc.Path
		if opts.DataDir != "" {
			confined, err := confinePath(opts.DataDir, path)
			if err != nil {
				return nil, &apperr.ValidationError{Field: "path", Value: sc.Path, Message: err.Error()}
			}
			path = confined
		} else if opts.BaseDir != "" && !filepath.IsAbs(path) {
			path = filepath.Join(opts.BaseDir, path)
		}
		var delim rune
		if r := []rune(sc.Delimiter); len(r) == 1 {
			delim = r[0]
		}
		return NewFileSource(sc.Name, FileConfig{Path: path, Delimiter: delim, Sheet: sc.Sheet})

	default:
		return nil, &apperr.ValidationError{
			Field:   "type",
			Value:   sc.Type,
			Message: fmt.Sprintf("unknown source type (want %s, %s or %s)", config.SourceQuery, config.SourceRequest, config.SourceFile),
		}
	}
}

// confinePath resolves path against dir and rejects results outside dir.
func confinePath(dir, path string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	target := filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("must be a path inside the data directory")
	}
	return target, nil
}

// confineConnection applies confinePath to SQLite database files. Other
// drivers and in-memory databases pass through unchanged.
func confineConnection(dir, conn string) (string, error) {
	driver, dsn, err := parseConnection(conn)
	if err != nil || (driver != "sqlite" && driver != "sqlite3") || dsn == ":memory:" {
		return conn, nil
	}
	path, query, _ := strings.Cut(dsn, "?")
	if strings.HasPrefix(path, "file:") {
		return "", &apperr.ValidationError{Field: "connection", Value: redact(conn), Message: "sqlite URIs are not accepted here; name the database file"}
	}
	confined, err := confinePath(dir, path)
	if err != nil {
		return "", &apperr.ValidationError{Field: "connection", Value: redact(conn), Message: err.Error()}
	}
	scheme, _, _ := strings.Cut(conn, "://")
	if query != "" {
		confined += "?" + query
	}
	return scheme + "://" + confined, nil
}

// FromConfigs builds every source of a report, closing the ones already
// built when a later one fails.
func FromConfigs(scs []config.SourceConfig, opts Options) ([]Source, error) {
	out := make([]Source, 0, len(scs))
	for i, sc := range scs {
		s, err := FromConfig(sc, opts)
		if err != nil {
			CloseAll(out)
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CloseAll closes every source that holds resources.
func CloseAll(sources []Source) {
	for _, s := range sources {
		_ = Close(s)
	}
}

// Package datasource fetches tabular data from databases, HTTP APIs and
// local files behind one Source interface. Every failure surfaces as an
// *apperr.DataSourceError tagged with the connector kind.
package datasource

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/logging"
	"reportgen/internal/table"
)

// Kind identifies a connector variant.
type Kind = apperr.SourceKind

const (
	KindQuery   = apperr.KindQuery
	KindRequest = apperr.KindRequest
	KindFile    = apperr.KindFile
)

// Source is a named producer of one table.
type Source interface {
	// Name is the merge key. Empty means unnamed.
	Name() string
	Kind() Kind
	// Fetch retrieves the data. Each call produces a fresh table.
	Fetch(ctx context.Context) (*table.Table, error)
	// TestConnection runs the lightest probe the connector supports.
	TestConnection(ctx context.Context) (bool, error)
}

// errClosed is returned by sources whose resources were released.
var errClosed = errors.New("source is closed")

// Target describes where a source reads from (redacted URL, DSN or path),
// for logs and probe reports.
func Target(s Source) string {
	if t, ok := s.(interface{ Target() string }); ok {
		return t.Target()
	}
	return ""
}

// Close releases resources held by s, if it holds any.
func Close(s Source) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func logFetched(log *zap.Logger, target string, t *table.Table, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("target", target),
		zap.Int("rows", t.NumRows()),
		zap.Int("columns", t.NumColumns()),
	}, fields...)
	log.Info("data fetched", fields...)
}

func fail(log *zap.Logger, kind Kind, name, message string, cause error) error {
	log.Error(message, zap.Error(cause))
	return apperr.NewDataSourceError(kind, name, message, cause)
}

// sourceLogger is logging.ForSource with the kind converted.
func sourceLogger(name string, kind Kind) *zap.Logger {
	return logging.ForSource(name, string(kind))
}

// Package table provides the in-memory tabular value exchanged by every
// reportgen component: an ordered set of named, uniformly typed columns of
// equal length. Tables are immutable once built; accessors never expose the
// backing slices.
package table

import (
	"errors"
	"fmt"
	"time"
)

// Type is the scalar type shared by every cell of a column.
type Type int

const (
	// String holds string cells.
	String Type = iota
	// Int holds int64 cells.
	Int
	// Float holds float64 cells.
	Float
	// Bool holds bool cells.
	Bool
	// Timestamp holds time.Time cells.
	Timestamp
)

// String returns the string representation of a Type.
func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Common errors returned by the table package.
var (
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrLengthMismatch  = errors.New("column length mismatch")
	ErrTypeMismatch    = errors.New("cell type does not match column type")
	ErrEmptyColumnName = errors.New("empty column name")
)

// Column is a named, typed sequence of cells. A nil cell is null.
type Column struct {
	name   string
	typ    Type
	values []any
}

// NewColumn builds a column. Values must be nil or of the Go type that
// matches typ (string, int64, float64, bool, time.Time).
func NewColumn(name string, typ Type, values []any) (Column, error) {
	if name == "" {
		return Column{}, ErrEmptyColumnName
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		if !matches(typ, v) {
			return Column{}, fmt.Errorf("%w: column %q row %d has %T, want %s", ErrTypeMismatch, name, i, v, typ)
		}
	}
	cp := make([]any, len(values))
	copy(cp, values)
	return Column{name: name, typ: typ, values: cp}, nil
}

func matches(typ Type, v any) bool {
	switch typ {
	case String:
		_, ok := v.(string)
		return ok
	case Int:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Timestamp:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}

// Name returns the column name.
func (c Column) Name() string { return c.name }

// Type returns the column type.
func (c Column) Type() Type { return c.typ }

// Len returns the number of cells.
func (c Column) Len() int { return len(c.values) }

// Value returns the cell at row i, or nil when it is null.
func (c Column) Value(i int) any { return c.values[i] }

// IsNull reports whether the cell at row i is null.
func (c Column) IsNull(i int) bool { return c.values[i] == nil }

// Table is an ordered collection of equal-length columns with unique names.
type Table struct {
	columns []Column
	index   map[string]int
}

// New assembles a table, enforcing unique names and equal column lengths.
func New(columns ...Column) (*Table, error) {
	t := &Table{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if c.name == "" {
			return nil, ErrEmptyColumnName
		}
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.name)
		}
		if i > 0 && c.Len() != columns[0].Len() {
			return nil, fmt.Errorf("%w: column %q has %d rows, column %q has %d",
				ErrLengthMismatch, c.name, c.Len(), columns[0].name, columns[0].Len())
		}
		t.index[c.name] = i
		t.columns[i] = c
	}
	return t, nil
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{index: map[string]int{}}
}

// NumRows returns the row count (zero for a table without columns).
func (t *Table) NumRows() int {
	if len(t.columns) == 0 {
		return 0
	}
	return t.columns[0].Len()
}

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.columns) }

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

// Column returns the column at index i.
func (t *Table) Column(i int) Column { return t.columns[i] }

// ColumnByName looks up a column by name.
func (t *Table) ColumnByName(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// Cell returns the value at (row, col).
func (t *Table) Cell(row, col int) any { return t.columns[col].values[row] }

// Row returns a copy of the values in row i, in column order.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.columns))
	for c := range t.columns {
		row[c] = t.columns[c].values[i]
	}
	return row
}

// Records returns every row as an ordered Record.
func (t *Table) Records() []Record {
	names := t.ColumnNames()
	out := make([]Record, t.NumRows())
	for i := range out {
		out[i] = Record{names: names, values: t.Row(i)}
	}
	return out
}

// Maps returns every row as a column-name keyed map. Intended for template
// contexts, where ordering is irrelevant.
func (t *Table) Maps() []map[string]any {
	out := make([]map[string]any, t.NumRows())
	for i := range out {
		m := make(map[string]any, len(t.columns))
		for _, c := range t.columns {
			m[c.name] = c.values[i]
		}
		out[i] = m
	}
	return out
}

// Equal reports whether two tables have identical schemas and cells.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.columns) != len(o.columns) {
		return false
	}
	for i, c := range t.columns {
		oc := o.columns[i]
		if c.name != oc.name || c.typ != oc.typ || len(c.values) != len(oc.values) {
			return false
		}
		for r := range c.values {
			if !cellEqual(c.values[r], oc.values[r]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// Record is one row with its column names, preserving column order.
type Record struct {
	names  []string
	values []any
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.values) }

// Name returns the column name of field i.
func (r Record) Name(i int) string { return r.names[i] }

// Value returns the value of field i.
func (r Record) Value(i int) any { return r.values[i] }

// Get returns the value of the named field.
func (r Record) Get(name string) (any, bool) {
	for i, n := range r.names {
		if n == name {
			return r.values[i], true
		}
	}
	return nil, false
}

package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"reportgen/internal/render"
	"reportgen/internal/table"
)

// Tables maps source keys to tables in insertion order. Setting an
// existing key replaces its table but keeps its position.
type Tables struct {
	names  []string
	tables map[string]*table.Table
}

// NewTables returns an empty mapping.
func NewTables() *Tables {
	return &Tables{tables: make(map[string]*table.Table)}
}

// Set stores t under name. A later write to the same name wins.
func (m *Tables) Set(name string, t *table.Table) {
	if _, ok := m.tables[name]; !ok {
		m.names = append(m.names, name)
	}
	m.tables[name] = t
}

// Get returns the table stored under name.
func (m *Tables) Get(name string) (*table.Table, bool) {
	t, ok := m.tables[name]
	return t, ok
}

// Names returns the keys in insertion order.
func (m *Tables) Names() []string {
	return append([]string(nil), m.names...)
}

// Len returns the number of entries.
func (m *Tables) Len() int { return len(m.names) }

// Each calls fn for every entry in order.
func (m *Tables) Each(fn func(name string, t *table.Table)) {
	for _, n := range m.names {
		fn(n, m.tables[n])
	}
}

// MarshalJSON encodes the mapping as an object keyed in insertion order,
// each value a list of row objects.
func (m *Tables) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		rows, err := m.tables[n].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", n, err)
		}
		buf.Write(rows)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ContextKind tells the two shapes of a MergedContext apart.
type ContextKind int

const (
	// SingleContext holds the one table of a single-source report.
	SingleContext ContextKind = iota
	// MultipleContext holds a name to table mapping.
	MultipleContext
)

func (k ContextKind) String() string {
	if k == SingleContext {
		return "single"
	}
	return "multiple"
}

// MergedContext is what templates and exporters receive: the table itself
// when exactly one source was given, otherwise the ordered mapping of
// every source's table. Consumers switch on Kind.
type MergedContext struct {
	kind   ContextKind
	name   string
	single *table.Table
	tables *Tables
}

// Single wraps the table of a one-source report. name is the source key,
// used where a label is needed (spreadsheet sheet names).
func Single(name string, t *table.Table) MergedContext {
	return MergedContext{kind: SingleContext, name: name, single: t}
}

// Multiple wraps a mapping.
func Multiple(m *Tables) MergedContext {
	if m == nil {
		m = NewTables()
	}
	return MergedContext{kind: MultipleContext, tables: m}
}

// Kind reports which shape the context holds.
func (c MergedContext) Kind() ContextKind { return c.kind }

// Single returns the lone table and its key.
func (c MergedContext) Single() (*table.Table, string, bool) {
	return c.single, c.name, c.kind == SingleContext
}

// Multiple returns the mapping.
func (c MergedContext) Multiple() (*Tables, bool) {
	return c.tables, c.kind == MultipleContext
}

// Len returns the number of tables held.
func (c MergedContext) Len() int {
	if c.kind == SingleContext {
		return 1
	}
	return c.tables.Len()
}

// Each visits every table with its key, in order.
func (c MergedContext) Each(fn func(name string, t *table.Table)) {
	switch c.kind {
	case SingleContext:
		fn(c.name, c.single)
	case MultipleContext:
		c.tables.Each(fn)
	}
}

// TemplateValue converts the context into what templates see as data: a
// table view for a single source, a map of table views otherwise.
func (c MergedContext) TemplateValue() any {
	if c.kind == SingleContext {
		return render.TableValue(c.single)
	}
	out := make(map[string]any, c.tables.Len())
	c.tables.Each(func(name string, t *table.Table) {
		out[name] = render.TableValue(t)
	})
	return out
}

// MarshalJSON encodes a single table as a list of row objects and a
// mapping as an object of such lists.
func (c MergedContext) MarshalJSON() ([]byte, error) {
	if c.kind == SingleContext {
		return c.single.MarshalJSON()
	}
	return c.tables.MarshalJSON()
}

package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when inferring timestamps from text.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FromRows builds a table from already-decoded Go values (JSON documents,
// SQL scans). Each column gets the narrowest type that fits every non-null
// cell; columns that mix incompatible kinds fall back to String.
func FromRows(names []string, rows [][]any) (*Table, error) {
	names = NormalizeHeader(names)
	columns := make([]Column, len(names))
	for c, name := range names {
		raw := make([]any, len(rows))
		for r, row := range rows {
			if c < len(row) {
				raw[r] = normalize(row[c])
			}
		}
		typ, values := inferValues(raw)
		col, err := NewColumn(name, typ, values)
		if err != nil {
			return nil, err
		}
		columns[c] = col
	}
	return New(columns...)
}

// FromStrings builds a table from text cells (CSV, spreadsheets). Empty
// cells are null. Short rows are padded with nulls.
func FromStrings(header []string, rows [][]string) (*Table, error) {
	header = NormalizeHeader(header)
	columns := make([]Column, len(header))
	for c, name := range header {
		cells := make([]string, len(rows))
		for r, row := range rows {
			if c < len(row) {
				cells[r] = row[c]
			}
		}
		typ, values := inferStrings(cells)
		col, err := NewColumn(name, typ, values)
		if err != nil {
			return nil, err
		}
		columns[c] = col
	}
	return New(columns...)
}

// FromObjects builds a table from decoded JSON objects. Column order
// follows first appearance across the objects; missing keys are null.
func FromObjects(objects []Object) (*Table, error) {
	var names []string
	seen := make(map[string]bool)
	for _, obj := range objects {
		for _, k := range obj.Keys {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	rows := make([][]any, len(objects))
	for i, obj := range objects {
		row := make([]any, len(names))
		for c, n := range names {
			row[c] = obj.Values[n]
		}
		rows[i] = row
	}
	return FromRows(names, rows)
}

// FromJSONValues builds a table from decoded JSON elements, one row each.
// Objects contribute their keys as columns; any other element becomes a
// single "value" column.
func FromJSONValues(values []any) (*Table, error) {
	objects := make([]Object, len(values))
	for i, v := range values {
		if obj, ok := v.(Object); ok {
			objects[i] = obj
			continue
		}
		objects[i] = Object{Keys: []string{"value"}, Values: map[string]any{"value": v}}
	}
	return FromObjects(objects)
}

// NormalizeHeader fills empty names and disambiguates duplicates
// ("a", "a" becomes "a", "a.1").
func NormalizeHeader(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]int, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			n = fmt.Sprintf("column_%d", i)
		}
		base := n
		for used[n] > 0 {
			n = fmt.Sprintf("%s.%d", base, used[base])
			used[base]++
		}
		used[n]++
		out[i] = n
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64, time.Time:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []byte:
		return string(x)
	default:
		return x
	}
}

type kindSet struct {
	ints, floats, bools, times, strings, other int
}

func inferValues(raw []any) (Type, []any) {
	var ks kindSet
	for _, v := range raw {
		switch v.(type) {
		case nil:
		case int64:
			ks.ints++
		case float64:
			ks.floats++
		case bool:
			ks.bools++
		case time.Time:
			ks.times++
		case string:
			ks.strings++
		default:
			ks.other++
		}
	}

	total := ks.ints + ks.floats + ks.bools + ks.times + ks.strings + ks.other
	switch {
	case total == 0:
		return String, raw
	case ks.ints == total:
		return Int, raw
	case ks.ints+ks.floats == total:
		out := make([]any, len(raw))
		for i, v := range raw {
			if n, ok := v.(int64); ok {
				out[i] = float64(n)
			} else {
				out[i] = v
			}
		}
		return Float, out
	case ks.bools == total:
		return Bool, raw
	case ks.times == total:
		return Timestamp, raw
	}

	out := make([]any, len(raw))
	for i, v := range raw {
		if v != nil {
			out[i] = Stringify(v)
		}
	}
	return String, out
}

func inferStrings(cells []string) (Type, []any) {
	candidates := map[Type]bool{Int: true, Float: true, Bool: true, Timestamp: true}
	nonEmpty := 0
	for _, s := range cells {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		nonEmpty++
		if candidates[Int] {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				candidates[Int] = false
			}
		}
		if candidates[Float] {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				candidates[Float] = false
			}
		}
		if candidates[Bool] {
			if _, ok := parseBool(s); !ok {
				candidates[Bool] = false
			}
		}
		if candidates[Timestamp] {
			if _, ok := parseTimestamp(s); !ok {
				candidates[Timestamp] = false
			}
		}
	}

	typ := String
	if nonEmpty > 0 {
		for _, t := range []Type{Int, Float, Bool, Timestamp} {
			if candidates[t] {
				typ = t
				break
			}
		}
	}

	values := make([]any, len(cells))
	for i, s := range cells {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		switch typ {
		case Int:
			values[i], _ = strconv.ParseInt(trimmed, 10, 64)
		case Float:
			values[i], _ = strconv.ParseFloat(trimmed, 64)
		case Bool:
			values[i], _ = parseBool(trimmed)
		case Timestamp:
			values[i], _ = parseTimestamp(trimmed)
		default:
			values[i] = s
		}
	}
	return typ, values
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Stringify renders a cell as text. Nested values are JSON encoded.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(data)
	}
}

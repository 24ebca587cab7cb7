package render

import "reportgen/internal/table"

// TableValue exposes a table to templates as
//
//	columns  column names in order
//	rows     one map per row, keyed by column name
//	values   one list per row, in column order
//	count    number of rows
//
// so that {% for row in data.rows %}{{ row.total }}{% endfor %} and
// header-driven loops over columns and values both work.
func TableValue(t *table.Table) map[string]any {
	if t == nil {
		t = table.Empty()
	}
	values := make([][]any, t.NumRows())
	for i := range values {
		values[i] = t.Row(i)
	}
	return map[string]any{
		"columns": t.ColumnNames(),
		"rows":    t.Maps(),
		"values":  values,
		"count":   t.NumRows(),
	}
}

package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"parusdata/tabular"
)

// tableValue exposes a loaded dataset to generated code as an opaque,
// read-only handle. All operations on it go through the tab module.
type tableValue struct {
	name string
	tab  *tabular.Table
}

func (t *tableValue) String() string {
	return fmt.Sprintf("<table %s columns=%d rows=%d>", t.name, len(t.tab.Columns), t.tab.NumRows())
}

func (t *tableValue) Type() string          { return "table" }
func (t *tableValue) Freeze()               {} // tables are immutable by construction
func (t *tableValue) Truth() starlark.Bool  { return starlark.Bool(t.tab.NumRows() > 0) }
func (t *tableValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: table") }

// cellValue converts a table cell to a Starlark value: a float when the
// cell parses as a number, the raw string otherwise.
func cellValue(cell string) starlark.Value {
	if f, ok := tabular.Float(cell); ok {
		return starlark.Float(f)
	}
	return starlark.String(cell)
}

func unpackTable(fn string, args starlark.Tuple, kwargs []starlark.Tuple, rest ...interface{}) (*tableValue, error) {
	var tv *tableValue
	pairs := append([]interface{}{"t", &tv}, rest...)
	if err := starlark.UnpackArgs(fn, args, kwargs, pairs...); err != nil {
		return nil, err
	}
	return tv, nil
}

// TabModule builds the tabular-operations capability handle. It is the only
// way generated code can read dataset contents.
func TabModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "tab",
		Members: starlark.StringDict{
			"columns":   starlark.NewBuiltin("tab.columns", tabColumns),
			"rows":      starlark.NewBuiltin("tab.rows", tabRows),
			"column":    starlark.NewBuiltin("tab.column", tabColumn),
			"cell":      starlark.NewBuiltin("tab.cell", tabCell),
			"filter":    starlark.NewBuiltin("tab.filter", tabFilter),
			"head":      starlark.NewBuiltin("tab.head", tabHead),
			"sort":      starlark.NewBuiltin("tab.sort", tabSort),
			"unique":    starlark.NewBuiltin("tab.unique", tabUnique),
			"count":     starlark.NewBuiltin("tab.count", tabRows),
			"sum":       starlark.NewBuiltin("tab.sum", tabSum),
			"mean":      starlark.NewBuiltin("tab.mean", tabMean),
			"min":       starlark.NewBuiltin("tab.min", tabMin),
			"max":       starlark.NewBuiltin("tab.max", tabMax),
			"group_sum": starlark.NewBuiltin("tab.group_sum", tabGroupSum),
		},
	}
}

func tabColumns(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	tv, err := unpackTable(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	items := make([]starlark.Value, len(tv.tab.Columns))
	for i, c := range tv.tab.Columns {
		items[i] = starlark.String(c)
	}
	return starlark.NewList(items), nil
}

func tabRows(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	tv, err := unpackTable(b.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(tv.tab.NumRows()), nil
}

func tabColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col)
	if err != nil {
		return nil, err
	}
	cells, err := tv.tab.Column(col)
	if err != nil {
		return nil, err
	}
	items := make([]starlark.Value, len(cells))
	for i, c := range cells {
		items[i] = cellValue(c)
	}
	return starlark.NewList(items), nil
}

func tabCell(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var row int
	var col string
	tv, err := unpackTable(b.Name(), args, kwargs, "row", &row, "col", &col)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= tv.tab.NumRows() {
		return nil, fmt.Errorf("%s: row %d out of range (table has %d rows)", b.Name(), row, tv.tab.NumRows())
	}
	idx, ok := tv.tab.ColumnIndex(col)
	if !ok {
		return nil, fmt.Errorf("%s: column %q not found; available columns: %s", b.Name(), col, strings.Join(tv.tab.Columns, ", "))
	}
	return cellValue(tv.tab.Rows[row][idx]), nil
}

func tabFilter(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col, contains string
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col, "contains", &contains)
	if err != nil {
		return nil, err
	}
	idx, ok := tv.tab.ColumnIndex(col)
	if !ok {
		return nil, fmt.Errorf("%s: column %q not found; available columns: %s", b.Name(), col, strings.Join(tv.tab.Columns, ", "))
	}

	needle := strings.ToLower(contains)
	filtered := &tabular.Table{Columns: tv.tab.Columns}
	for _, row := range tv.tab.Rows {
		if strings.Contains(strings.ToLower(row[idx]), needle) {
			filtered.Rows = append(filtered.Rows, row)
		}
	}
	return &tableValue{name: tv.name, tab: filtered}, nil
}

func tabHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	tv, err := unpackTable(b.Name(), args, kwargs, "n", &n)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	if n > tv.tab.NumRows() {
		n = tv.tab.NumRows()
	}
	return &tableValue{name: tv.name, tab: &tabular.Table{Columns: tv.tab.Columns, Rows: tv.tab.Rows[:n]}}, nil
}

func tabSort(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	var desc bool
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col, "desc?", &desc)
	if err != nil {
		return nil, err
	}
	idx, ok := tv.tab.ColumnIndex(col)
	if !ok {
		return nil, fmt.Errorf("%s: column %q not found; available columns: %s", b.Name(), col, strings.Join(tv.tab.Columns, ", "))
	}

	rows := make([][]string, len(tv.tab.Rows))
	copy(rows, tv.tab.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		if desc {
			return cellLess(rows[j][idx], rows[i][idx])
		}
		return cellLess(rows[i][idx], rows[j][idx])
	})
	return &tableValue{name: tv.name, tab: &tabular.Table{Columns: tv.tab.Columns, Rows: rows}}, nil
}

// cellLess orders numerically when both cells parse as numbers,
// lexicographically otherwise.
func cellLess(a, b string) bool {
	fa, oka := tabular.Float(a)
	fb, okb := tabular.Float(b)
	if oka && okb {
		return fa < fb
	}
	return a < b
}

func tabUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col)
	if err != nil {
		return nil, err
	}
	cells, err := tv.tab.Column(col)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var items []starlark.Value
	for _, c := range cells {
		if !seen[c] {
			seen[c] = true
			items = append(items, cellValue(c))
		}
	}
	return starlark.NewList(items), nil
}

func columnFloats(tv *tableValue, col string) ([]float64, error) {
	cells, err := tv.tab.Column(col)
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, c := range cells {
		if f, ok := tabular.Float(c); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func tabSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col)
	if err != nil {
		return nil, err
	}
	vals, err := columnFloats(tv, col)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return starlark.Float(total), nil
}

func tabMean(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col)
	if err != nil {
		return nil, err
	}
	vals, err := columnFloats(tv, col)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: column %q has no numeric values", b.Name(), col)
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return starlark.Float(total / float64(len(vals))), nil
}

func tabMin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return tabExtreme(b, args, kwargs, func(a, v float64) bool { return v < a })
}

func tabMax(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return tabExtreme(b, args, kwargs, func(a, v float64) bool { return v > a })
}

func tabExtreme(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, better func(acc, v float64) bool) (starlark.Value, error) {
	var col string
	tv, err := unpackTable(b.Name(), args, kwargs, "col", &col)
	if err != nil {
		return nil, err
	}
	vals, err := columnFloats(tv, col)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%s: column %q has no numeric values", b.Name(), col)
	}
	acc := vals[0]
	for _, v := range vals[1:] {
		if better(acc, v) {
			acc = v
		}
	}
	return starlark.Float(acc), nil
}

func tabGroupSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by, value string
	tv, err := unpackTable(b.Name(), args, kwargs, "by", &by, "value", &value)
	if err != nil {
		return nil, err
	}
	byIdx, ok := tv.tab.ColumnIndex(by)
	if !ok {
		return nil, fmt.Errorf("%s: column %q not found; available columns: %s", b.Name(), by, strings.Join(tv.tab.Columns, ", "))
	}
	valIdx, ok := tv.tab.ColumnIndex(value)
	if !ok {
		return nil, fmt.Errorf("%s: column %q not found; available columns: %s", b.Name(), value, strings.Join(tv.tab.Columns, ", "))
	}

	// Aggregate preserving first-seen group order.
	sums := make(map[string]float64)
	var order []string
	for _, row := range tv.tab.Rows {
		key := row[byIdx]
		if _, seen := sums[key]; !seen {
			order = append(order, key)
		}
		if f, ok := tabular.Float(row[valIdx]); ok {
			sums[key] += f
		}
	}

	grouped := &tabular.Table{Columns: []string{by, value}}
	for _, key := range order {
		grouped.Rows = append(grouped.Rows, []string{key, formatFloat(sums[key])})
	}
	return &tableValue{name: tv.name, tab: grouped}, nil
}

func formatFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

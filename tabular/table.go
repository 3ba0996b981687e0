// Package tabular loads delimited-text and spreadsheet files fully into
// in-memory tables. It is used by the analysis loop (full load) and by
// ingestion (bounded preview load) with the same contract.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// Supported file kinds.
const (
	KindCSV  = "csv"
	KindXLSX = "xlsx"
	KindXLS  = "xls"
)

// Table is an immutable in-memory table: a header row plus string cells.
// Numeric interpretation is left to callers via Float.
type Table struct {
	Columns []string
	Rows    [][]string
}

// KindForFilename maps a filename to a supported kind, or "" if the
// extension is not supported.
func KindForFilename(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return KindCSV
	case strings.HasSuffix(lower, ".xlsx"):
		return KindXLSX
	case strings.HasSuffix(lower, ".xls"):
		return KindXLS
	default:
		return ""
	}
}

// Load parses raw file bytes into a Table. maxRows bounds the number of
// data rows (<= 0 means unbounded). Unsupported kinds are a hard error.
func Load(data []byte, kind string, maxRows int) (*Table, error) {
	switch kind {
	case KindCSV:
		return loadCSV(data, maxRows)
	case KindXLSX:
		return loadXLSX(data, maxRows)
	case KindXLS:
		return loadXLS(data, maxRows)
	default:
		return nil, fmt.Errorf("unsupported file kind %q", kind)
	}
}

func loadCSV(data []byte, maxRows int) (*Table, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return fromRecords(records, maxRows)
}

func loadXLSX(data []byte, maxRows int) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in xlsx file")
	}

	// First sheet only: uploaded analysis files are single-sheet exports.
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return fromRecords(records, maxRows)
}

func loadXLS(data []byte, maxRows int) (*Table, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open xls: %w", err)
	}

	limit := maxRows
	if limit <= 0 {
		limit = 1 << 20
	}
	records := wb.ReadAllCells(limit + 1) // +1 for the header row
	return fromRecords(records, maxRows)
}

func fromRecords(records [][]string, maxRows int) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("file contains no rows")
	}

	columns := make([]string, len(records[0]))
	for i, c := range records[0] {
		c = strings.TrimSpace(c)
		if c == "" {
			c = fmt.Sprintf("column_%d", i+1)
		}
		columns[i] = c
	}

	rows := records[1:]
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	// Pad ragged rows so every row has a cell per column.
	normalized := make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, len(columns))
		copy(row, r)
		normalized[i] = row
	}

	return &Table{Columns: columns, Rows: normalized}, nil
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of a column by exact name.
func (t *Table) ColumnIndex(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// Column returns all cells of the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx, ok := t.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found; available columns: %s", name, strings.Join(t.Columns, ", "))
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Float parses a cell as a number. Spreadsheet exports often carry spaces
// or comma decimal separators, so both are tolerated.
func Float(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

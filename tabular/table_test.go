package tabular

import (
	"strings"
	"testing"
)

func TestKindForFilename(t *testing.T) {
	cases := map[string]string{
		"report.csv":   KindCSV,
		"Report.XLSX":  KindXLSX,
		"old_data.xls": KindXLS,
		"notes.txt":    "",
		"archive.zip":  "",
	}
	for name, want := range cases {
		if got := KindForFilename(name); got != want {
			t.Errorf("KindForFilename(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestLoadUnknownKindIsHardError(t *testing.T) {
	if _, err := Load([]byte("a,b\n1,2\n"), "parquet", 0); err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestLoadCSV(t *testing.T) {
	data := []byte("Регион,Выручка\nМосква,100\nКазань,50\n")
	table, err := Load(data, KindCSV, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(table.Columns) != 2 || table.Columns[0] != "Регион" {
		t.Errorf("unexpected columns: %v", table.Columns)
	}
	if table.NumRows() != 2 {
		t.Errorf("expected 2 rows, got %d", table.NumRows())
	}
}

func TestLoadCSVRaggedRowsArePadded(t *testing.T) {
	data := []byte("a,b,c\n1,2\n3,4,5,6\n")
	table, err := Load(data, KindCSV, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for i, row := range table.Rows {
		if len(row) != len(table.Columns) {
			t.Errorf("row %d has %d cells, want %d", i, len(row), len(table.Columns))
		}
	}
}

func TestLoadCSVMaxRows(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("n\n")
	for i := 0; i < 100; i++ {
		sb.WriteString("1\n")
	}
	table, err := Load([]byte(sb.String()), KindCSV, 10)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.NumRows() != 10 {
		t.Errorf("expected 10 rows, got %d", table.NumRows())
	}
}

func TestLoadEmptyHeaderGetsPlaceholder(t *testing.T) {
	table, err := Load([]byte("a,,c\n1,2,3\n"), KindCSV, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Columns[1] != "column_2" {
		t.Errorf("expected placeholder name, got %q", table.Columns[1])
	}
}

func TestColumnNotFound(t *testing.T) {
	table := &Table{Columns: []string{"a"}, Rows: [][]string{{"1"}}}
	if _, err := table.Column("b"); err == nil {
		t.Fatal("expected error for unknown column")
	} else if !strings.Contains(err.Error(), "available columns") {
		t.Errorf("error should list available columns: %v", err)
	}
}

func TestFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"100", 100, true},
		{" 42.5 ", 42.5, true},
		{"1 234", 1234, true},
		{"12,5", 12.5, true},
		{"1,234.5", 0, false},
		{"Москва", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := Float(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("Float(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

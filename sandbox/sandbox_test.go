package sandbox

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"parusdata/tabular"
)

func salesTable() *tabular.Table {
	return &tabular.Table{
		Columns: []string{"Регион", "Выручка"},
		Rows: [][]string{
			{"Москва", "100"},
			{"Казань", "50"},
			{"Москва", "200"},
		},
	}
}

func TestExecuteSetsOutput(t *testing.T) {
	in := NewInterpreter()
	res, err := in.Execute(context.Background(), `final_result = "итого: " + str(2 + 3)`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.HasOutput {
		t.Fatal("expected output to be present")
	}
	if res.Output != "итого: 5" {
		t.Errorf("unexpected output: %q", res.Output)
	}
	if !res.OutputIsString {
		t.Error("string result should be flagged as string")
	}
}

func TestExecuteNumericOutputNotFlaggedString(t *testing.T) {
	in := NewInterpreter()
	res, err := in.Execute(context.Background(), `final_result = 42`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.HasOutput || res.Output != "42" {
		t.Errorf("unexpected output: %q (has=%v)", res.Output, res.HasOutput)
	}
	if res.OutputIsString {
		t.Error("numeric result must not be flagged as string")
	}
}

func TestExecuteMissingOutputVariable(t *testing.T) {
	in := NewInterpreter()
	res, err := in.Execute(context.Background(), `x = 1`, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.HasOutput {
		t.Errorf("expected no output, got %q", res.Output)
	}
}

func TestExecuteTableOperations(t *testing.T) {
	in := NewInterpreter()
	tables := map[string]*tabular.Table{"df_sales": salesTable()}

	code := `
total = tab.sum(df_sales, "Выручка")
moscow = tab.filter(df_sales, "Регион", "моск")
final_result = "%d строк, сумма %d" % (tab.rows(moscow), int(total))
`
	res, err := in.Execute(context.Background(), code, tables)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Output != "2 строк, сумма 350" {
		t.Errorf("unexpected output: %q", res.Output)
	}
}

func TestExecuteRendersChart(t *testing.T) {
	in := NewInterpreter()
	tables := map[string]*tabular.Table{"df_sales": salesTable()}

	code := `
grouped = tab.group_sum(df_sales, "Регион", "Выручка")
plot.bar(tab.column(grouped, "Регион"), tab.column(grouped, "Выручка"), title="Выручка по регионам")
final_result = "График построен"
`
	res, err := in.Execute(context.Background(), code, tables)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Chart) == 0 {
		t.Fatal("expected chart bytes")
	}
	if !bytes.HasPrefix(res.Chart, []byte("\x89PNG")) {
		t.Error("chart is not a PNG")
	}
}

func TestExecuteRejectsHostAccess(t *testing.T) {
	in := NewInterpreter()
	for _, code := range []string{
		`final_result = open("/etc/passwd")`,
		`load("os", "getenv")`,
	} {
		if _, err := in.Execute(context.Background(), code, nil); err == nil {
			t.Errorf("expected error for %q", code)
		}
	}
}

func TestExecuteRuntimeErrorKeepsBacktrace(t *testing.T) {
	in := NewInterpreter()
	_, err := in.Execute(context.Background(), "x = 1\nfinal_result = x / 0\n", nil)
	if err == nil {
		t.Fatal("expected division error")
	}
	if !strings.Contains(err.Error(), "EvalError") || !strings.Contains(err.Error(), "Traceback") {
		t.Errorf("error should carry kind and backtrace, got: %v", err)
	}
}

func TestExecuteStepBudget(t *testing.T) {
	in := &Interpreter{maxSteps: 1000}
	_, err := in.Execute(context.Background(), `
x = 0
for i in range(1000000):
    x += 1
final_result = x
`, nil)
	if err == nil {
		t.Fatal("expected step budget to cancel execution")
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	in := NewInterpreter()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := in.Execute(ctx, `
x = 0
for i in range(100000000):
    x += 1
final_result = x
`, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestExecutionsAreIsolated(t *testing.T) {
	in := NewInterpreter()
	if _, err := in.Execute(context.Background(), `secret = 7
final_result = secret`, nil); err != nil {
		t.Fatalf("first execution failed: %v", err)
	}
	if _, err := in.Execute(context.Background(), `final_result = secret`, nil); err == nil {
		t.Fatal("second execution must not see the first one's globals")
	}
}
